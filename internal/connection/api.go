package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/echobridge/alexaremote/internal/common/cnst"
	"github.com/echobridge/alexaremote/internal/connection/jsons"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// Announce queues a multi-device announcement. Calls sharing the same
// content arriving within the debounce window collapse into one outbound
// batch; volumes stay per-device.
func (c *Connection) Announce(device jsons.Device, speak, bodyText, title string, ttsVolume, standardVolume *int) {
	if strings.TrimSpace(stripTags(speak)) == "" {
		return
	}
	c.announcements.add(batchKey{Speak: speak, Body: bodyText, Title: title}, device, ttsVolume, standardVolume)
}

// Speak queues a text-to-speech utterance for one device.
func (c *Connection) Speak(device jsons.Device, text string, ttsVolume, standardVolume *int) {
	if strings.TrimSpace(stripTags(text)) == "" {
		return
	}
	c.speeches.add(batchKey{Speak: text}, device, ttsVolume, standardVolume)
}

// ExecuteSequenceCommand submits one behavior command (Alexa.Weather.Play,
// Alexa.Speak, ...) for a device. A nil device targets the account.
func (c *Connection) ExecuteSequenceCommand(device *jsons.Device, command string, parameters map[string]any) {
	c.sequences.enqueue(c.executionNode(device, command, parameters))
}

// RunSequenceNode queues an already-built node for dispatch.
func (c *Connection) RunSequenceNode(node SequenceNode) {
	c.sequences.enqueue(node)
}

// SendNotificationToMobileApp pushes a message to the companion app.
func (c *Connection) SendNotificationToMobileApp(customerID, text, title string) {
	if title == "" {
		title = "alexaremote"
	}
	c.ExecuteSequenceCommand(nil, cnst.CommandMobilePush, map[string]any{
		"notificationMessage": text,
		"alexaUrl":            "#v2/behaviors",
		"title":               title,
		"customerId":          customerID,
	})
}

// sendSpeechBatch drains one text-to-speech batch: each device gets its own
// speak node since voice text is per-speaker.
func (c *Connection) sendSpeechBatch(entry *batchEntry) error {
	if len(entry.devices) == 0 {
		return nil
	}
	parameters := map[string]any{"textToSpeak": entry.key.Speak}
	return c.executeSequenceWithVolume(entry.devices, cnst.CommandSpeak, parameters, entry.ttsVolumes, entry.standardVolumes)
}

// sendAnnouncementBatch drains one announcement batch as a single node
// fanning out to all devices.
func (c *Connection) sendAnnouncementBatch(entry *batchEntry) error {
	devices := entry.devices
	if len(devices) == 0 {
		return nil
	}

	title := entry.key.Title
	if title == "" {
		title = "alexaremote"
	}
	content := jsons.AnnouncementContent{
		Display: jsons.AnnouncementDisplay{
			Title: title,
			Body:  stripTags(entry.key.Speak),
		},
		Speak: jsons.AnnouncementSpeak{Value: entry.key.Speak},
	}
	if strings.HasPrefix(entry.key.Speak, "<speak>") && strings.HasSuffix(entry.key.Speak, "</speak>") {
		content.Speak.Type = "ssml"
	}

	target := jsons.AnnouncementTarget{CustomerID: devices[0].DeviceOwnerCustomerID}
	for _, device := range devices {
		target.Devices = append(target.Devices, jsons.TargetDevice{
			DeviceSerialNumber: device.SerialNumber,
			DeviceTypeID:       device.DeviceType,
		})
	}

	parameters := map[string]any{
		"expireAfter": "PT5S",
		"content":     []jsons.AnnouncementContent{content},
		"target":      target,
	}
	if customerID := c.mediaOwnerCustomerID(devices[0]); customerID != "" {
		parameters["customerId"] = customerID
	}
	return c.executeSequenceWithVolume(devices, cnst.CommandAnnouncement, parameters, entry.ttsVolumes, entry.standardVolumes)
}

// executeSequenceWithVolume wraps a main action with volume side effects:
// one parallel set-volume node ahead for every device whose during-speech
// volume differs from its restore volume, and a restore node afterwards for
// devices not targeted by any still-pending speech.
func (c *Connection) executeSequenceWithVolume(devices []jsons.Device, command string, parameters map[string]any, ttsVolumes, standardVolumes []*int) error {
	var volumeNodes []SequenceNode
	for i := range devices {
		if volumesDiffer(ttsVolumes[i], standardVolumes[i]) {
			volumeNodes = append(volumeNodes, c.executionNode(&devices[i], cnst.CommandVolume, map[string]any{"value": *ttsVolumes[i]}))
		}
	}
	if len(volumeNodes) > 0 {
		c.sequences.enqueue(compositeNode(volumeNodes, true))
	}

	var mainNodes []SequenceNode
	if command == cnst.CommandSpeak {
		for i := range devices {
			mainNodes = append(mainNodes, c.executionNode(&devices[i], command, parameters))
		}
	} else {
		mainNodes = append(mainNodes, c.executionNode(&devices[0], command, parameters))
	}
	c.sequences.enqueue(compositeNode(mainNodes, true))

	var restoreNodes []SequenceNode
	for i := range devices {
		if c.deviceStillQueued(devices[i].SerialNumber) {
			// another pending utterance targets this device; restoring
			// now would audibly snap the volume back and forth
			continue
		}
		if volumesDiffer(ttsVolumes[i], standardVolumes[i]) {
			restoreNodes = append(restoreNodes, c.executionNode(&devices[i], cnst.CommandVolume, map[string]any{"value": *standardVolumes[i]}))
		}
	}
	if len(restoreNodes) > 0 {
		c.sequences.enqueue(compositeNode(restoreNodes, true))
	}
	return nil
}

func volumesDiffer(tts, standard *int) bool {
	return tts != nil && standard != nil && *tts != *standard
}

func (c *Connection) deviceStillQueued(serial string) bool {
	return c.speeches.deviceQueued(serial) || c.announcements.deviceQueued(serial)
}

// submitSequenceNode wraps one node into a start-routine request and fires
// it at the behaviors endpoint. Dispatch is fire-and-forget; the queue
// cooldown paces successive nodes.
func (c *Connection) submitSequenceNode(node SequenceNode) {
	sequence := map[string]any{
		"@type":     cnst.NodeTypeSequence,
		"startNode": node,
	}
	sequenceJSON, err := json.Marshal(sequence)
	if err != nil {
		c.logger.Warn("encoding sequence failed", zap.Error(err))
		return
	}
	status := "ENABLED"
	request := jsons.StartRoutineRequest{SequenceJSON: string(sequenceJSON), Status: &status}
	payload, err := json.Marshal(request)
	if err != nil {
		c.logger.Warn("encoding start routine request failed", zap.Error(err))
		return
	}
	headers := map[string]string{"Routines-Version": cnst.RoutinesVersion}
	c.fire("POST", c.server()+cnst.PathBehaviorsPreview, payload, true, headers, c.badRequestRetry)
}

// GetDevices lists the account's echo devices.
func (c *Connection) GetDevices(ctx context.Context) ([]jsons.Device, error) {
	body, err := c.GetDevicesJSON(ctx)
	if err != nil {
		return nil, err
	}
	var devices jsons.Devices
	if err := c.parseJSON([]byte(body), &devices); err != nil {
		return nil, err
	}
	return devices.Devices, nil
}

// GetDevicesJSON returns the raw device listing.
func (c *Connection) GetDevicesJSON(ctx context.Context) (string, error) {
	return c.requestString(ctx, "GET", c.server()+cnst.PathDevices, nil, false, nil)
}

// GetWakeWords lists wake-word assignments; failures yield an empty list.
func (c *Connection) GetWakeWords(ctx context.Context) []jsons.WakeWord {
	body, err := c.requestString(ctx, "GET", c.server()+cnst.PathWakeWords, nil, false, nil)
	if err != nil {
		c.logger.Info("getting wake words failed", zap.Error(err))
		return nil
	}
	var words jsons.WakeWords
	if err := c.parseJSON([]byte(body), &words); err != nil {
		return nil
	}
	return words.WakeWords
}

// GetSmartHomeDevices walks the phoenix network tree and collects device
// and group nodes.
func (c *Connection) GetSmartHomeDevices(ctx context.Context) ([]jsons.SmartHomeDevice, []jsons.SmartHomeGroup, error) {
	body, err := c.requestString(ctx, "GET", c.server()+cnst.PathSmartHome, nil, false, nil)
	if err != nil {
		return nil, nil, err
	}
	var details jsons.NetworkDetails
	if err := c.parseJSON([]byte(body), &details); err != nil {
		return nil, nil, err
	}

	var devices []jsons.SmartHomeDevice
	var groups []jsons.SmartHomeGroup
	var walk func(node gjson.Result)
	walk = func(node gjson.Result) {
		if !node.IsObject() {
			return
		}
		switch {
		case node.Get("entityId").Exists() && node.Get("friendlyName").Exists() && node.Get("actions").Exists():
			var device jsons.SmartHomeDevice
			if err := json.Unmarshal([]byte(node.Raw), &device); err == nil {
				device.Raw = json.RawMessage(node.Raw)
				devices = append(devices, device)
			}
		case node.Get("applianceGroupName").Exists():
			var group jsons.SmartHomeGroup
			if err := json.Unmarshal([]byte(node.Raw), &group); err == nil {
				group.Raw = json.RawMessage(node.Raw)
				groups = append(groups, group)
			}
		default:
			node.ForEach(func(_, value gjson.Result) bool {
				walk(value)
				return true
			})
		}
	}
	walk(gjson.Parse(details.NetworkDetail))
	return devices, groups, nil
}

// GetSmartHomeDeviceStates queries capability states for a set of
// appliances, keyed by entity id.
func (c *Connection) GetSmartHomeDeviceStates(ctx context.Context, applianceIDs []string) (map[string]json.RawMessage, error) {
	type stateRequest struct {
		EntityID   string `json:"entityId"`
		EntityType string `json:"entityType"`
	}
	requests := make([]stateRequest, 0, len(applianceIDs))
	for _, id := range applianceIDs {
		requests = append(requests, stateRequest{EntityID: id, EntityType: "APPLIANCE"})
	}
	payload, err := json.Marshal(map[string]any{"stateRequests": requests})
	if err != nil {
		return nil, err
	}
	body, err := c.requestString(ctx, "POST", c.server()+cnst.PathSmartHomeState, payload, true, nil)
	if err != nil {
		return nil, err
	}

	result := make(map[string]json.RawMessage)
	gjson.Get(body, "deviceStates").ForEach(func(_, state gjson.Result) bool {
		entityID := state.Get("entity.entityId").String()
		capabilities := state.Get("capabilityStates")
		if entityID != "" && capabilities.IsArray() {
			result[entityID] = json.RawMessage(capabilities.Raw)
		}
		return true
	})
	return result, nil
}

// SmartHomeCommand sends one control request to an appliance. Errors
// reported inside the response body are logged, not returned, matching the
// endpoint's partial-failure semantics.
func (c *Connection) SmartHomeCommand(ctx context.Context, entityID, action string, property string, value any) error {
	parameters := map[string]any{"action": action}
	if property != "" {
		parameters[property] = value
	}
	payload, err := json.Marshal(map[string]any{
		"controlRequests": []map[string]any{{
			"entityId":   entityID,
			"entityType": "APPLIANCE",
			"parameters": parameters,
		}},
	})
	if err != nil {
		return err
	}
	body, err := c.requestString(ctx, "PUT", c.server()+cnst.PathSmartHomeState, payload, true, nil)
	if err != nil {
		return err
	}
	if errs := gjson.Get(body, "errors"); errs.IsArray() && len(errs.Array()) > 0 {
		c.logger.Info("smart home command reported errors",
			zap.String("entityId", entityID),
			zap.String("errors", errs.Raw))
	}
	return nil
}

// GetPlayerState returns the media player state of a device.
func (c *Connection) GetPlayerState(ctx context.Context, device jsons.Device) (*jsons.PlayerState, error) {
	u := fmt.Sprintf("%s%s?deviceSerialNumber=%s&deviceType=%s&screenWidth=1440",
		c.server(), cnst.PathPlayer, device.SerialNumber, device.DeviceType)
	body, err := c.requestString(ctx, "GET", u, nil, false, nil)
	if err != nil {
		return nil, err
	}
	var state jsons.PlayerState
	if err := c.parseJSON([]byte(body), &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// GetMediaState returns the low-level media session state of a device.
func (c *Connection) GetMediaState(ctx context.Context, device jsons.Device) (*jsons.MediaState, error) {
	u := fmt.Sprintf("%s%s?deviceSerialNumber=%s&deviceType=%s",
		c.server(), cnst.PathMediaState, device.SerialNumber, device.DeviceType)
	body, err := c.requestString(ctx, "GET", u, nil, false, nil)
	if err != nil {
		return nil, err
	}
	var state jsons.MediaState
	if err := c.parseJSON([]byte(body), &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// GetActivities returns recent voice history entries; failures yield nil.
func (c *Connection) GetActivities(ctx context.Context, count int, startTime *time.Time) []jsons.Activity {
	start := ""
	if startTime != nil {
		start = fmt.Sprintf("%d", startTime.UnixMilli())
	}
	u := fmt.Sprintf("%s%s?startTime=%s&size=%d&offset=1", c.server(), cnst.PathActivities, start, count)
	body, err := c.requestString(ctx, "GET", u, nil, false, nil)
	if err != nil {
		c.logger.Info("getting activities failed", zap.Error(err))
		return nil
	}
	var activities jsons.Activities
	if err := c.parseJSON([]byte(body), &activities); err != nil {
		return nil
	}
	return activities.Activities
}

// GetBluetoothStates returns the bluetooth pairing states of all devices.
func (c *Connection) GetBluetoothStates(ctx context.Context) ([]jsons.BluetoothState, error) {
	body, err := c.requestString(ctx, "GET", c.server()+cnst.PathBluetooth, nil, false, nil)
	if err != nil {
		return nil, err
	}
	var states jsons.BluetoothStates
	if err := c.parseJSON([]byte(body), &states); err != nil {
		return nil, err
	}
	return states.BluetoothStates, nil
}

// Bluetooth pairs the device with the given address, or disconnects the
// current sink when the address is empty.
func (c *Connection) Bluetooth(device jsons.Device, address string) {
	if address == "" {
		c.fire("POST", fmt.Sprintf("%s%s/%s/%s", c.server(), cnst.PathBluetoothDisconnect, device.DeviceType, device.SerialNumber),
			[]byte{}, true, nil, 0)
		return
	}
	payload, _ := json.Marshal(map[string]string{"bluetoothDeviceAddress": address})
	c.fire("POST", fmt.Sprintf("%s%s/%s/%s", c.server(), cnst.PathBluetoothPairSink, device.DeviceType, device.SerialNumber),
		payload, true, nil, 0)
}

// GetPlaylists returns the cloud player playlists of a device.
func (c *Connection) GetPlaylists(ctx context.Context, device jsons.Device) (*jsons.Playlists, error) {
	u := fmt.Sprintf("%s%s?deviceSerialNumber=%s&deviceType=%s&mediaOwnerCustomerId=%s",
		c.server(), cnst.PathPlaylists, device.SerialNumber, device.DeviceType, c.mediaOwnerCustomerID(device))
	body, err := c.requestString(ctx, "GET", u, nil, false, nil)
	if err != nil {
		return nil, err
	}
	var playlists jsons.Playlists
	if err := c.parseJSON([]byte(body), &playlists); err != nil {
		return nil, err
	}
	return &playlists, nil
}

// SendCommand posts one player command (play, pause, ...) to a device.
func (c *Connection) SendCommand(device jsons.Device, command map[string]any) error {
	payload, err := json.Marshal(command)
	if err != nil {
		return err
	}
	u := fmt.Sprintf("%s%s?deviceSerialNumber=%s&deviceType=%s",
		c.server(), cnst.PathCommand, device.SerialNumber, device.DeviceType)
	c.fire("POST", u, payload, true, nil, 0)
	return nil
}

// PlayRadio starts a TuneIn station; an empty station id pauses playback.
func (c *Connection) PlayRadio(device jsons.Device, stationID string) error {
	if stationID == "" {
		return c.SendCommand(device, map[string]any{"type": "PauseCommand"})
	}
	u := fmt.Sprintf("%s%s?deviceSerialNumber=%s&deviceType=%s&guideId=%s&contentType=station&callSign=&mediaOwnerCustomerId=%s",
		c.server(), cnst.PathTuneInQueueAndPlay, device.SerialNumber, device.DeviceType, url.QueryEscape(stationID), c.mediaOwnerCustomerID(device))
	c.fire("POST", u, []byte{}, true, nil, 0)
	return nil
}

// PlayMusicTrack queues one cloud player track; empty pauses.
func (c *Connection) PlayMusicTrack(device jsons.Device, trackID string) error {
	if trackID == "" {
		return c.SendCommand(device, map[string]any{"type": "PauseCommand"})
	}
	payload, err := json.Marshal(map[string]any{"trackId": trackID, "playQueuePrime": true})
	if err != nil {
		return err
	}
	c.fire("POST", c.queueAndPlayURL(device), payload, true, nil, 0)
	return nil
}

// PlayMusicPlaylist queues one cloud player playlist; empty pauses.
func (c *Connection) PlayMusicPlaylist(device jsons.Device, playlistID string) error {
	if playlistID == "" {
		return c.SendCommand(device, map[string]any{"type": "PauseCommand"})
	}
	payload, err := json.Marshal(map[string]any{"playlistId": playlistID, "playQueuePrime": true})
	if err != nil {
		return err
	}
	c.fire("POST", c.queueAndPlayURL(device), payload, true, nil, 0)
	return nil
}

func (c *Connection) queueAndPlayURL(device jsons.Device) string {
	return fmt.Sprintf("%s%s?deviceSerialNumber=%s&deviceType=%s&mediaOwnerCustomerId=%s&shuffle=false",
		c.server(), cnst.PathCloudQueueAndPlay, device.SerialNumber, device.DeviceType, c.mediaOwnerCustomerID(device))
}

// GetMusicProviders lists behavior music providers; failures yield nil.
func (c *Connection) GetMusicProviders(ctx context.Context) []jsons.MusicProvider {
	headers := map[string]string{"Routines-Version": cnst.RoutinesVersion}
	body, err := c.requestString(ctx, "GET", c.server()+cnst.PathMusicEntities, nil, true, headers)
	if err != nil {
		c.logger.Warn("getting music providers failed", zap.Error(err))
		return nil
	}
	var providers []jsons.MusicProvider
	if err := c.parseJSON([]byte(body), &providers); err != nil {
		return nil
	}
	return providers
}

// PlayMusicVoiceCommand validates a spoken search phrase against the
// behaviors endpoint and submits the sanitized result as a play request.
func (c *Connection) PlayMusicVoiceCommand(ctx context.Context, device jsons.Device, providerID, voiceCommand string) error {
	locale := cnst.TokenLocale
	payload := jsons.PlaySearchPhraseOperationPayload{
		CustomerID:      c.mediaOwnerCustomerID(device),
		Locale:          &locale,
		MusicProviderID: providerID,
		SearchPhrase:    voiceCommand,
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	validate, err := json.Marshal(map[string]any{
		"type":             cnst.CommandPlaySearchPhrase,
		"operationPayload": string(payloadJSON),
	})
	if err != nil {
		return err
	}
	body, err := c.requestString(ctx, "POST", c.server()+cnst.PathBehaviorsValidate, validate, true, nil)
	if err != nil {
		return err
	}
	var validation jsons.PlayValidationResult
	if err := c.parseJSON([]byte(body), &validation); err == nil && validation.OperationPayload != nil {
		payload.SanitizedSearchPhrase = validation.OperationPayload.SanitizedSearchPhrase
		payload.SearchPhrase = validation.OperationPayload.SearchPhrase
	}

	payload.Locale = nil
	payload.DeviceSerialNumber = device.SerialNumber
	payload.DeviceType = device.DeviceType

	startNode := map[string]any{
		"@type":            cnst.NodeTypeOpaque,
		"type":             cnst.CommandPlaySearchPhrase,
		"operationPayload": payload,
	}
	sequenceJSON, err := json.Marshal(map[string]any{
		"@type":     cnst.NodeTypeSequence,
		"startNode": startNode,
	})
	if err != nil {
		return err
	}
	request, err := json.Marshal(jsons.StartRoutineRequest{SequenceJSON: string(sequenceJSON)})
	if err != nil {
		return err
	}
	c.fire("POST", c.server()+cnst.PathBehaviorsPreview, request, true, nil, c.badRequestRetry)
	return nil
}

// SetNotificationVolume sets a device's notification volume.
func (c *Connection) SetNotificationVolume(device jsons.Device, volume int) error {
	payload, err := json.Marshal(jsons.DeviceNotificationState{
		DeviceSerialNumber: device.SerialNumber,
		DeviceType:         device.DeviceType,
		SoftwareVersion:    device.SoftwareVersion,
		VolumeLevel:        volume,
	})
	if err != nil {
		return err
	}
	u := fmt.Sprintf("%s%s/%s/%s/%s", c.server(), cnst.PathDeviceNotificationSt,
		device.DeviceType, device.SoftwareVersion, device.SerialNumber)
	c.fire("PUT", u, payload, true, nil, 0)
	return nil
}

// GetDeviceNotificationStates lists notification volumes; failures yield nil.
func (c *Connection) GetDeviceNotificationStates(ctx context.Context) []jsons.DeviceNotificationState {
	body, err := c.requestString(ctx, "GET", c.server()+cnst.PathDeviceNotificationSt, nil, false, nil)
	if err != nil {
		c.logger.Info("getting device notification states failed", zap.Error(err))
		return nil
	}
	var states jsons.DeviceNotificationStates
	if err := c.parseJSON([]byte(body), &states); err != nil {
		return nil
	}
	return states.DeviceNotificationStates
}

// SetAscendingAlarm toggles a device's ascending alarm.
func (c *Connection) SetAscendingAlarm(device jsons.Device, enabled bool) error {
	payload, err := json.Marshal(jsons.AscendingAlarmModel{
		AscendingAlarmEnabled: enabled,
		DeviceSerialNumber:    device.SerialNumber,
		DeviceType:            device.DeviceType,
	})
	if err != nil {
		return err
	}
	c.fire("PUT", c.server()+cnst.PathAscendingAlarm+"/"+device.SerialNumber, payload, true, nil, 0)
	return nil
}

// GetAscendingAlarms lists ascending-alarm switches; failures yield nil.
func (c *Connection) GetAscendingAlarms(ctx context.Context) []jsons.AscendingAlarmModel {
	body, err := c.requestString(ctx, "GET", c.server()+cnst.PathAscendingAlarm, nil, false, nil)
	if err != nil {
		c.logger.Info("getting ascending alarms failed", zap.Error(err))
		return nil
	}
	var alarms jsons.AscendingAlarms
	if err := c.parseJSON([]byte(body), &alarms); err != nil {
		return nil
	}
	return alarms.AscendingAlarmModelList
}

// GetNotificationSounds lists the selectable alert sounds of a device.
func (c *Connection) GetNotificationSounds(ctx context.Context, device jsons.Device) ([]jsons.NotificationSound, error) {
	u := fmt.Sprintf("%s%s?deviceSerialNumber=%s&deviceType=%s&softwareVersion=%s",
		c.server(), cnst.PathNotificationSounds, device.SerialNumber, device.DeviceType, device.SoftwareVersion)
	body, err := c.requestString(ctx, "GET", u, nil, false, nil)
	if err != nil {
		return nil, err
	}
	var sounds jsons.NotificationSounds
	if err := c.parseJSON([]byte(body), &sounds); err != nil {
		return nil, err
	}
	return sounds.NotificationSounds, nil
}

// GetNotifications lists active reminders, alarms and timers.
func (c *Connection) GetNotifications(ctx context.Context) ([]jsons.NotificationResponse, error) {
	body, err := c.requestString(ctx, "GET", c.server()+cnst.PathNotifications, nil, false, nil)
	if err != nil {
		return nil, err
	}
	var notifications jsons.Notifications
	if err := c.parseJSON([]byte(body), &notifications); err != nil {
		return nil, err
	}
	return notifications.Notifications, nil
}

// CreateNotification creates a reminder/alarm/timer. The alarm time is
// pushed five seconds into the future because the service rejects times in
// the past relative to its own clock.
func (c *Connection) CreateNotification(ctx context.Context, device jsons.Device, notificationType, label string, sound *jsons.NotificationSound) (*jsons.NotificationResponse, error) {
	created := time.Now()
	alarm := created.Add(5 * time.Second)

	var reminderLabel *string
	if label != "" {
		reminderLabel = &label
	}
	request := jsons.NotificationRequest{
		Type:               notificationType,
		ID:                 "create" + notificationType,
		Status:             "ON",
		DeviceSerialNumber: device.SerialNumber,
		DeviceType:         device.DeviceType,
		CreatedDate:        created.UnixMilli(),
		AlarmTime:          alarm.UnixMilli(),
		OriginalDate:       alarm.Format("2006-01-02"),
		OriginalTime:       alarm.Format("15:04:05.0000"),
		ReminderLabel:      reminderLabel,
		Sound:              sound,
	}
	payload, err := json.Marshal(request)
	if err != nil {
		return nil, err
	}
	body, err := c.requestString(ctx, "PUT", c.server()+cnst.PathCreateReminder, payload, true, nil)
	if err != nil {
		return nil, err
	}
	var response jsons.NotificationResponse
	if err := c.parseJSON([]byte(body), &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// DeleteNotification stops a previously created notification.
func (c *Connection) DeleteNotification(notification jsons.NotificationResponse) {
	c.fire("DELETE", c.server()+cnst.PathNotifications+"/"+notification.ID, nil, true, nil, 0)
}

// GetNotificationState re-reads one notification.
func (c *Connection) GetNotificationState(ctx context.Context, notification jsons.NotificationResponse) (*jsons.NotificationResponse, error) {
	body, err := c.requestString(ctx, "GET", c.server()+cnst.PathNotifications+"/"+notification.ID, nil, true, nil)
	if err != nil {
		return nil, err
	}
	var response jsons.NotificationResponse
	if err := c.parseJSON([]byte(body), &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// GetRoutines lists the account's stored automations.
func (c *Connection) GetRoutines(ctx context.Context) ([]jsons.Automation, error) {
	body, err := c.requestString(ctx, "GET", c.server()+cnst.PathBehaviorsAutomations, nil, false, nil)
	if err != nil {
		return nil, err
	}
	var routines []jsons.Automation
	if err := c.parseJSON([]byte(body), &routines); err != nil {
		return nil, err
	}
	return routines, nil
}

// StartRoutine finds the routine triggered by the given utterance and
// submits its sequence with the identity placeholders bound to the device.
func (c *Connection) StartRoutine(ctx context.Context, device jsons.Device, utterance string) error {
	routines, err := c.GetRoutines(ctx)
	if err != nil {
		return err
	}

	var found *jsons.Automation
	locale := ""
	for i := range routines {
		for _, trigger := range routines[i].Triggers {
			if trigger.Payload == nil || routines[i].Sequence == nil {
				continue
			}
			if strings.EqualFold(trigger.Payload.Utterance, utterance) {
				found = &routines[i]
				locale = trigger.Payload.Locale
				break
			}
		}
		if found != nil {
			break
		}
	}
	if found == nil {
		c.logger.Warn("routine not found", zap.String("utterance", utterance))
		return nil
	}

	var tree any
	if err := json.Unmarshal(found.Sequence, &tree); err != nil {
		return &DecodeError{Payload: string(found.Sequence), Err: err}
	}
	tree = substituteRoutineTokens(tree, device, c.mediaOwnerCustomerID(device), locale)
	sequenceJSON, err := json.Marshal(tree)
	if err != nil {
		return err
	}

	request, err := json.Marshal(jsons.StartRoutineRequest{
		BehaviorID:   found.AutomationID,
		SequenceJSON: string(sequenceJSON),
	})
	if err != nil {
		return err
	}
	c.fire("POST", c.server()+cnst.PathBehaviorsPreview, request, true, nil, c.badRequestRetry)
	return nil
}

// GetEnabledFlashBriefings lists the enabled flash-briefing feeds.
func (c *Connection) GetEnabledFlashBriefings(ctx context.Context) ([]jsons.Feed, error) {
	body, err := c.requestString(ctx, "GET", c.server()+cnst.PathEnabledFeeds, nil, false, nil)
	if err != nil {
		return nil, err
	}
	var feeds jsons.EnabledFeeds
	if err := c.parseJSON([]byte(body), &feeds); err != nil {
		return nil, err
	}
	return feeds.EnabledFeeds, nil
}

// SetEnabledFlashBriefings replaces the enabled flash-briefing feeds.
func (c *Connection) SetEnabledFlashBriefings(feeds []jsons.Feed) error {
	payload, err := json.Marshal(jsons.EnabledFeeds{EnabledFeeds: feeds})
	if err != nil {
		return err
	}
	c.fire("POST", c.server()+cnst.PathEnabledFeeds, payload, true, nil, 0)
	return nil
}

// GetEqualizer reads a device's audio tuning.
func (c *Connection) GetEqualizer(ctx context.Context, device jsons.Device) (*jsons.Equalizer, error) {
	u := fmt.Sprintf("%s%s/%s/%s", c.server(), cnst.PathEqualizer, device.SerialNumber, device.DeviceType)
	body, err := c.requestString(ctx, "GET", u, nil, false, nil)
	if err != nil {
		return nil, err
	}
	var equalizer jsons.Equalizer
	if err := c.parseJSON([]byte(body), &equalizer); err != nil {
		return nil, err
	}
	return &equalizer, nil
}

// SetEqualizer writes a device's audio tuning.
func (c *Connection) SetEqualizer(device jsons.Device, settings jsons.Equalizer) error {
	payload, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	u := fmt.Sprintf("%s%s/%s/%s", c.server(), cnst.PathEqualizer, device.SerialNumber, device.DeviceType)
	c.fire("POST", u, payload, true, nil, 0)
	return nil
}
