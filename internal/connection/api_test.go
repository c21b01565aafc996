package connection

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/echobridge/alexaremote/internal/common/cnst"
	"github.com/echobridge/alexaremote/internal/connection/jsons"
	"github.com/stretchr/testify/assert"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// sequenceRecorder swaps the connection's sequence queue for one that
// records every node passing through. Nodes still waiting in the queue are
// folded in so tests see the full submission order.
type sequenceRecorder struct {
	mu    sync.Mutex
	nodes []SequenceNode
}

func recordSequences(c *Connection) *sequenceRecorder {
	rec := &sequenceRecorder{}
	c.sequences = newSequenceQueue(zap.NewNop(), nil, func(node SequenceNode) {
		rec.mu.Lock()
		rec.nodes = append(rec.nodes, node)
		rec.mu.Unlock()
	})
	return rec
}

func (r *sequenceRecorder) all(c *Connection) []SequenceNode {
	r.mu.Lock()
	out := append([]SequenceNode{}, r.nodes...)
	r.mu.Unlock()
	c.sequences.mu.Lock()
	out = append(out, c.sequences.queue...)
	c.sequences.mu.Unlock()
	return out
}

func TestGetDevices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/devices-v2/device", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"devices": []map[string]any{
				{"accountName": "Kitchen", "serialNumber": "S1", "deviceType": "T1", "online": true},
				{"accountName": "This Device", "serialNumber": "S2", "deviceType": "T2"},
			},
		})
	}))
	defer srv.Close()

	c := fastConnection(srv)
	devices, err := c.GetDevices(context.Background())
	assert.NoError(t, err)
	assert.Len(t, devices, 2)
	assert.Equal(t, "Kitchen", devices[0].AccountName)
	assert.True(t, devices[0].Online)
}

func TestGetSmartHomeDevices(t *testing.T) {
	tree := map[string]any{
		"locationDetails": map[string]any{
			"home": map[string]any{
				"applianceDetails": map[string]any{
					"bulb": map[string]any{
						"entityId":     "e-1",
						"applianceId":  "a-1",
						"friendlyName": "Desk Lamp",
						"actions":      []string{"turnOn", "turnOff"},
					},
					"group": map[string]any{
						"applianceGroupName": "Living Room",
						"groupId":            "g-1",
					},
				},
			},
		},
	}
	detail, err := json.Marshal(tree)
	assert.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/phoenix", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]string{"networkDetail": string(detail)})
	}))
	defer srv.Close()

	c := fastConnection(srv)
	devices, groups, err := c.GetSmartHomeDevices(context.Background())
	assert.NoError(t, err)
	assert.Len(t, devices, 1)
	assert.Equal(t, "Desk Lamp", devices[0].FriendlyName)
	assert.Equal(t, "e-1", devices[0].EntityID)
	assert.NotEmpty(t, devices[0].Raw)
	assert.Len(t, groups, 1)
	assert.Equal(t, "Living Room", groups[0].ApplianceGroupName)
}

func TestSpeakAndAnnounce_RejectEmptyText(t *testing.T) {
	c := New(nil, nil, nil, nil)
	device := testDevice("S1")

	c.Speak(device, "   ", nil, nil)
	c.Speak(device, "<speak><break time=\"1s\"/></speak>", nil, nil)
	c.Announce(device, "", "body", "title", nil, nil)

	assert.True(t, c.Idle())
}

func TestSendSpeechBatch(t *testing.T) {
	c := New(nil, nil, nil, nil)
	rec := recordSequences(c)

	entry := &batchEntry{
		key:             batchKey{Speak: "hello"},
		devices:         deviceList("S1", "S2"),
		ttsVolumes:      []*int{nil, nil},
		standardVolumes: []*int{nil, nil},
	}
	assert.NoError(t, c.sendSpeechBatch(entry))

	nodes := rec.all(c)
	assert.Len(t, nodes, 1)
	doc := nodeJSON(t, nodes[0])
	assert.Equal(t, cnst.NodeTypeParallel, gjson.Get(doc, "@type").String())
	// one speak node per device
	assert.Equal(t, int64(2), gjson.Get(doc, "nodesToExecute.#").Int())
	assert.Equal(t, "hello", gjson.Get(doc, "nodesToExecute.0.operationPayload.textToSpeak").String())
	assert.Equal(t, "S2", gjson.Get(doc, "nodesToExecute.1.operationPayload.deviceSerialNumber").String())
}

func TestSendAnnouncementBatch(t *testing.T) {
	c := New(nil, nil, nil, nil)
	rec := recordSequences(c)

	entry := &batchEntry{
		key:             batchKey{Speak: "<speak>dinner</speak>", Title: "Home"},
		devices:         deviceList("S1", "S2"),
		ttsVolumes:      []*int{nil, nil},
		standardVolumes: []*int{nil, nil},
	}
	assert.NoError(t, c.sendAnnouncementBatch(entry))

	nodes := rec.all(c)
	assert.Len(t, nodes, 1)
	doc := nodeJSON(t, nodes[0])
	// a single node fans out to every device
	assert.Equal(t, int64(1), gjson.Get(doc, "nodesToExecute.#").Int())
	payload := gjson.Get(doc, "nodesToExecute.0.operationPayload")
	assert.Equal(t, "Home", payload.Get("content.0.display.title").String())
	assert.Equal(t, "dinner", payload.Get("content.0.display.body").String())
	assert.Equal(t, "ssml", payload.Get("content.0.speak.type").String())
	assert.Equal(t, int64(2), payload.Get("target.devices.#").Int())
}

func TestExecuteSequenceWithVolume(t *testing.T) {
	c := New(nil, nil, nil, nil)
	rec := recordSequences(c)
	devices := deviceList("S1", "S2")

	err := c.executeSequenceWithVolume(devices, cnst.CommandSpeak,
		map[string]any{"textToSpeak": "hi"},
		[]*int{intPtr(50), nil}, []*int{intPtr(20), nil})
	assert.NoError(t, err)

	nodes := rec.all(c)
	assert.Len(t, nodes, 3)

	// set volume ahead, only for the device with differing volumes
	pre := nodeJSON(t, nodes[0])
	assert.Equal(t, int64(1), gjson.Get(pre, "nodesToExecute.#").Int())
	assert.Equal(t, cnst.CommandVolume, gjson.Get(pre, "nodesToExecute.0.type").String())
	assert.Equal(t, int64(50), gjson.Get(pre, "nodesToExecute.0.operationPayload.value").Int())

	main := nodeJSON(t, nodes[1])
	assert.Equal(t, int64(2), gjson.Get(main, "nodesToExecute.#").Int())

	post := nodeJSON(t, nodes[2])
	assert.Equal(t, int64(20), gjson.Get(post, "nodesToExecute.0.operationPayload.value").Int())
}

func TestExecuteSequenceWithVolume_SkipsRestoreForQueuedDevices(t *testing.T) {
	c := New(nil, nil, nil, nil)
	rec := recordSequences(c)
	devices := deviceList("S1")

	// another utterance for S1 is still waiting, restoring now would be
	// audible mid-queue
	c.speeches.add(batchKey{Speak: "later"}, devices[0], nil, nil)

	err := c.executeSequenceWithVolume(devices, cnst.CommandSpeak,
		map[string]any{"textToSpeak": "hi"},
		[]*int{intPtr(50)}, []*int{intPtr(20)})
	assert.NoError(t, err)

	nodes := rec.all(c)
	// pre-volume and main only, no restore node
	assert.Len(t, nodes, 2)
}

func TestSubmitSequenceNode(t *testing.T) {
	type captured struct {
		header http.Header
		body   []byte
	}
	got := make(chan captured, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/behaviors/preview", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		got <- captured{header: r.Header.Clone(), body: body}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := fastConnection(srv)
	device := testDevice("S1")
	c.submitSequenceNode(c.executionNode(&device, cnst.CommandSpeak, map[string]any{"textToSpeak": "hi"}))

	select {
	case req := <-got:
		assert.Equal(t, cnst.RoutinesVersion, req.header.Get("Routines-Version"))

		doc := string(req.body)
		assert.Equal(t, "ENABLED", gjson.Get(doc, "status").String())
		inner := gjson.Get(doc, "sequenceJson").String()
		assert.Equal(t, cnst.NodeTypeSequence, gjson.Get(inner, "@type").String())
		assert.Equal(t, "hi", gjson.Get(inner, "startNode.operationPayload.textToSpeak").String())
	case <-time.After(2 * time.Second):
		t.Fatal("behaviors endpoint was never called")
	}
}

func TestStartRoutine_MatchesUtteranceAndBindsTokens(t *testing.T) {
	sequence := `{"@type":"com.amazon.alexa.behaviors.model.Sequence","startNode":{"operationPayload":{"deviceSerialNumber":"ALEXA_CURRENT_DSN","deviceType":"ALEXA_CURRENT_DEVICE_TYPE"}}}`
	got := make(chan []byte, 1)
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/api/behaviors/automations", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{
			"automationId": "amzn1.automation.1",
			"triggers": [{"payload": {"utterance": "Good Morning", "locale": "en-US"}}],
			"sequence": ` + sequence + `
		}]`))
	})
	mux.HandleFunc("/api/behaviors/preview", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- body
		w.WriteHeader(http.StatusOK)
	})

	c := fastConnection(srv)
	assert.NoError(t, c.StartRoutine(context.Background(), testDevice("S1"), "good morning"))

	select {
	case body := <-got:
		doc := string(body)
		assert.Equal(t, "amzn1.automation.1", gjson.Get(doc, "behaviorId").String())
		inner := gjson.Get(doc, "sequenceJson").String()
		payload := gjson.Get(inner, "startNode.operationPayload")
		assert.Equal(t, "S1", payload.Get("deviceSerialNumber").String())
		assert.Equal(t, "TYPE", payload.Get("deviceType").String())
	case <-time.After(2 * time.Second):
		t.Fatal("routine was never submitted")
	}
}

func TestGetEqualizerRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/equalizer/S1/TYPE", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]int{"bass": 2, "mid": -1, "treble": 0})
	}))
	defer srv.Close()

	c := fastConnection(srv)
	eq, err := c.GetEqualizer(context.Background(), testDevice("S1"))
	assert.NoError(t, err)
	assert.Equal(t, 2, eq.Bass)
	assert.Equal(t, -1, eq.Mid)
}

// deviceList builds a device slice from serials.
func deviceList(serials ...string) []jsons.Device {
	out := make([]jsons.Device, 0, len(serials))
	for _, s := range serials {
		out = append(out, testDevice(s))
	}
	return out
}
