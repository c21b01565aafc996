package connection

import (
	"encoding/json"

	"github.com/echobridge/alexaremote/internal/common/cnst"
	"github.com/echobridge/alexaremote/internal/connection/jsons"
	"github.com/tidwall/gjson"
)

// SequenceNode is one instruction of the behaviors execution model: a
// single opaque operation or a parallel/serial composite.
type SequenceNode map[string]any

// executionNode builds an opaque operation node for one device. Parameters
// are merged into the operation payload.
func (c *Connection) executionNode(device *jsons.Device, command string, parameters map[string]any) SequenceNode {
	payload := map[string]any{}
	if device != nil {
		payload["deviceType"] = device.DeviceType
		payload["deviceSerialNumber"] = device.SerialNumber
		payload["locale"] = ""
		payload["customerId"] = c.mediaOwnerCustomerID(*device)
	}
	for key, value := range parameters {
		payload[key] = value
	}
	return SequenceNode{
		"@type":            cnst.NodeTypeOpaque,
		"type":             command,
		"operationPayload": payload,
	}
}

// compositeNode wraps nodes into a parallel or serial execution node.
func compositeNode(nodes []SequenceNode, parallel bool) SequenceNode {
	nodeType := cnst.NodeTypeSerial
	if parallel {
		nodeType = cnst.NodeTypeParallel
	}
	return SequenceNode{
		"@type":          nodeType,
		"nodesToExecute": nodes,
	}
}

// speechText extracts the spoken text from a node so the drain cooldown can
// approximate the utterance duration. It inspects both plain text-to-speech
// payloads and announcement content.
func speechText(node SequenceNode) string {
	raw, err := json.Marshal(node)
	if err != nil {
		return ""
	}
	doc := string(raw)
	if text := gjson.Get(doc, "nodesToExecute.0.operationPayload.textToSpeak"); text.Exists() {
		return text.String()
	}
	if text := gjson.Get(doc, "nodesToExecute.0.operationPayload.content.0.speak.value"); text.Exists() {
		return text.String()
	}
	if text := gjson.Get(doc, "operationPayload.textToSpeak"); text.Exists() {
		return text.String()
	}
	return ""
}

// substituteRoutineTokens walks a decoded routine sequence and replaces the
// placeholder identity values field-wise. Working on the parsed tree avoids
// the substring collisions a textual replace would risk.
func substituteRoutineTokens(tree any, device jsons.Device, customerID, locale string) any {
	switch node := tree.(type) {
	case map[string]any:
		for key, value := range node {
			text, ok := value.(string)
			if !ok {
				node[key] = substituteRoutineTokens(value, device, customerID, locale)
				continue
			}
			switch {
			case key == "deviceType" && text == cnst.TokenDeviceType:
				node[key] = device.DeviceType
			case key == "deviceSerialNumber" && text == cnst.TokenDeviceSerial:
				node[key] = device.SerialNumber
			case key == "customerId" && text == cnst.TokenCustomerID:
				node[key] = customerID
			case key == "locale" && text == cnst.TokenLocale:
				if locale == "" {
					node[key] = nil
				} else {
					node[key] = locale
				}
			}
		}
		return node
	case []any:
		for i, item := range node {
			node[i] = substituteRoutineTokens(item, device, customerID, locale)
		}
		return node
	default:
		return tree
	}
}
