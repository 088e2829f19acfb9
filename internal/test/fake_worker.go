package test

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
)

// FakeWorkerHandler produces the response of one control request.
// Returning an error yields an error response with the error text as
// reason.
type FakeWorkerHandler func(handlerId string, data []byte) (interface{}, error)

// FakeWorker speaks the worker side of the control socket protocol
// over in-memory pipes, with canned responses per method. It keeps
// track of consumers per producer so that closing or pausing a
// producer notifies its consumers the way a real worker does.
type FakeWorker struct {
	Pid int

	producer        net.Conn
	consumer        net.Conn
	payloadProducer net.Conn
	payloadConsumer net.Conn

	chanIn     net.Conn
	chanOut    net.Conn
	payloadIn  net.Conn
	payloadOut net.Conn

	mutex                    sync.Mutex
	writeMutex               sync.Mutex
	payloadWriteMutex        sync.Mutex
	handlers                 map[string]FakeWorkerHandler
	consumersOfProducer      map[string][]string
	dataConsumersOf          map[string][]string
	producerOfConsumer       map[string]string
	producersOfTransport     map[string][]string
	dataProducersOfTransport map[string][]string

	closeOnce sync.Once
}

// NewFakeWorker creates a FakeWorker, starts its read loops and emits
// the running notification on the given pid.
func NewFakeWorker(pid int) *FakeWorker {
	w := &FakeWorker{
		Pid:                      pid,
		handlers:                 make(map[string]FakeWorkerHandler),
		consumersOfProducer:      make(map[string][]string),
		dataConsumersOf:          make(map[string][]string),
		producerOfConsumer:       make(map[string]string),
		producersOfTransport:     make(map[string][]string),
		dataProducersOfTransport: make(map[string][]string),
	}

	w.producer, w.chanIn = net.Pipe()
	w.consumer, w.chanOut = net.Pipe()
	w.payloadProducer, w.payloadIn = net.Pipe()
	w.payloadConsumer, w.payloadOut = net.Pipe()

	go w.runChannel()
	go w.runPayloadChannel()

	// the pipe is synchronous, the library reader does not exist yet
	go w.Notify(strconv.Itoa(pid), "running", nil)

	return w
}

// Conns returns the library side of the four control connections, in
// the order expected by worker constructors.
func (w *FakeWorker) Conns() (producer, consumer, payloadProducer, payloadConsumer net.Conn) {
	return w.producer, w.consumer, w.payloadProducer, w.payloadConsumer
}

// Close tears down every pipe.
func (w *FakeWorker) Close() {
	w.closeOnce.Do(func() {
		w.chanIn.Close()
		w.chanOut.Close()
		w.payloadIn.Close()
		w.payloadOut.Close()
	})
}

// HandleFunc overrides the response of the given method.
func (w *FakeWorker) HandleFunc(method string, handler FakeWorkerHandler) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	w.handlers[method] = handler
}

// Notify sends a notification to the library side of the channel.
func (w *FakeWorker) Notify(targetId, event string, data interface{}) {
	msg := map[string]interface{}{
		"targetId": targetId,
		"event":    event,
	}
	if data != nil {
		msg["data"] = data
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		panic(err)
	}

	w.writeMutex.Lock()
	defer w.writeMutex.Unlock()
	writeFrame(w.chanOut, raw) //nolint:errcheck
}

// NotifyPayload sends a payload notification pair to the library side
// of the payload channel.
func (w *FakeWorker) NotifyPayload(targetId, event string, data interface{}, payload []byte) {
	msg := map[string]interface{}{
		"targetId": targetId,
		"event":    event,
	}
	if data != nil {
		msg["data"] = data
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		panic(err)
	}

	w.payloadWriteMutex.Lock()
	defer w.payloadWriteMutex.Unlock()
	writeFrame(w.payloadOut, raw)     //nolint:errcheck
	writeFrame(w.payloadOut, payload) //nolint:errcheck
}

func (w *FakeWorker) runChannel() {
	for {
		frame, err := readFrame(w.chanIn)
		if err != nil {
			return
		}

		id, method, handlerId, data, err := parseRequest(string(frame))
		if err != nil {
			continue
		}

		respData, err := w.handle(method, handlerId, data)
		w.respond(id, respData, err)
	}
}

func (w *FakeWorker) runPayloadChannel() {
	for {
		frame, err := readFrame(w.payloadIn)
		if err != nil {
			return
		}

		header := string(frame)

		if strings.HasPrefix(header, "n:") {
			// notification, the payload follows in the next frame
			readFrame(w.payloadIn) //nolint:errcheck
			continue
		}

		id, _, _, _, err := parseRequest(header)
		if err != nil {
			continue
		}

		// request payload
		if _, err := readFrame(w.payloadIn); err != nil {
			return
		}

		raw, _ := json.Marshal(map[string]interface{}{ //nolint:errcheck
			"id":       id,
			"accepted": true,
			"data":     map[string]interface{}{},
		})

		w.payloadWriteMutex.Lock()
		writeFrame(w.payloadOut, raw) //nolint:errcheck
		w.payloadWriteMutex.Unlock()
	}
}

func (w *FakeWorker) respond(id uint32, data interface{}, err error) {
	var msg map[string]interface{}

	if err != nil {
		msg = map[string]interface{}{
			"id":     id,
			"error":  "Error",
			"reason": err.Error(),
		}
	} else {
		if data == nil {
			data = map[string]interface{}{}
		}
		msg = map[string]interface{}{
			"id":       id,
			"accepted": true,
			"data":     data,
		}
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		panic(err)
	}

	w.writeMutex.Lock()
	defer w.writeMutex.Unlock()
	writeFrame(w.chanOut, raw) //nolint:errcheck
}

func (w *FakeWorker) handle(method, handlerId string, data []byte) (interface{}, error) {
	w.mutex.Lock()
	handler, ok := w.handlers[method]
	w.mutex.Unlock()

	if ok {
		return handler(handlerId, data)
	}

	switch method {
	case "router.createWebRtcTransport":
		return map[string]interface{}{
			"iceRole": "controlled",
			"iceParameters": map[string]interface{}{
				"usernameFragment": "ufrag",
				"password":         "pwd",
				"iceLite":          true,
			},
			"iceCandidates": []interface{}{
				map[string]interface{}{
					"foundation": "udpcandidate",
					"priority":   1076302079,
					"ip":         "127.0.0.1",
					"protocol":   "udp",
					"port":       40000,
					"type":       "host",
				},
			},
			"iceState": "new",
			"dtlsParameters": map[string]interface{}{
				"role": "auto",
				"fingerprints": []interface{}{
					map[string]interface{}{
						"algorithm": "sha-256",
						"value":     "82:5A:68:3D:36:C3:0A:DE:AF:E7:32:43:D2:88:83:57:AC:2D:65:E5:80:C4:B6:FB:AF:1A:A0:21:9F:6D:0C:AD",
					},
				},
			},
			"dtlsState": "new",
			"sctpParameters": map[string]interface{}{
				"port":           5000,
				"OS":             1024,
				"MIS":            16,
				"maxMessageSize": 262144,
			},
			"sctpState": "new",
		}, nil

	case "router.createPlainTransport", "router.createPipeTransport":
		return map[string]interface{}{
			"tuple": map[string]interface{}{
				"localIp":   "127.0.0.1",
				"localPort": 40001,
				"protocol":  "udp",
			},
			"sctpParameters": map[string]interface{}{
				"port":           5000,
				"OS":             1024,
				"MIS":            16,
				"maxMessageSize": 262144,
			},
		}, nil

	case "transport.connect":
		return map[string]interface{}{"dtlsLocalRole": "client"}, nil

	case "transport.restartIce":
		return map[string]interface{}{
			"iceParameters": map[string]interface{}{
				"usernameFragment": "ufrag2",
				"password":         "pwd2",
				"iceLite":          true,
			},
		}, nil

	case "transport.produce":
		var req struct {
			ProducerId string `json:"producerId"`
		}
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, err
		}

		w.mutex.Lock()
		w.producersOfTransport[handlerId] = append(
			w.producersOfTransport[handlerId], req.ProducerId)
		w.mutex.Unlock()

		return map[string]interface{}{"type": "simple"}, nil

	case "transport.produceData":
		var req struct {
			DataProducerId string `json:"dataProducerId"`
		}
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, err
		}

		w.mutex.Lock()
		w.dataProducersOfTransport[handlerId] = append(
			w.dataProducersOfTransport[handlerId], req.DataProducerId)
		w.mutex.Unlock()

		return nil, nil

	case "transport.close":
		// closing a transport closes its producers, which notifies
		// their remote consumers
		w.mutex.Lock()
		producers := w.producersOfTransport[handlerId]
		delete(w.producersOfTransport, handlerId)
		dataProducers := w.dataProducersOfTransport[handlerId]
		delete(w.dataProducersOfTransport, handlerId)

		var consumers []string
		for _, producerId := range producers {
			consumers = append(consumers, w.consumersOfProducer[producerId]...)
			delete(w.consumersOfProducer, producerId)
		}
		var dataConsumers []string
		for _, dataProducerId := range dataProducers {
			dataConsumers = append(dataConsumers, w.dataConsumersOf[dataProducerId]...)
			delete(w.dataConsumersOf, dataProducerId)
		}
		w.mutex.Unlock()

		for _, consumerId := range consumers {
			w.Notify(consumerId, "producerclose", nil)
		}
		for _, dataConsumerId := range dataConsumers {
			w.Notify(dataConsumerId, "dataproducerclose", nil)
		}
		return nil, nil

	case "transport.consume":
		var req struct {
			ConsumerId string `json:"consumerId"`
			ProducerId string `json:"producerId"`
		}
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, err
		}

		w.mutex.Lock()
		w.consumersOfProducer[req.ProducerId] = append(
			w.consumersOfProducer[req.ProducerId], req.ConsumerId)
		w.producerOfConsumer[req.ConsumerId] = req.ProducerId
		w.mutex.Unlock()

		return map[string]interface{}{
			"paused":         false,
			"producerPaused": false,
			"score": map[string]interface{}{
				"score":         10,
				"producerScore": 10,
			},
		}, nil

	case "transport.consumeData":
		var req struct {
			DataConsumerId string `json:"dataConsumerId"`
			DataProducerId string `json:"dataProducerId"`
		}
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, err
		}

		w.mutex.Lock()
		w.dataConsumersOf[req.DataProducerId] = append(
			w.dataConsumersOf[req.DataProducerId], req.DataConsumerId)
		w.mutex.Unlock()

		return nil, nil

	case "producer.close":
		w.mutex.Lock()
		consumers := w.consumersOfProducer[handlerId]
		delete(w.consumersOfProducer, handlerId)
		w.mutex.Unlock()

		for _, consumerId := range consumers {
			w.Notify(consumerId, "producerclose", nil)
		}
		return nil, nil

	case "producer.pause", "producer.resume":
		event := "producerpause"
		if method == "producer.resume" {
			event = "producerresume"
		}

		w.mutex.Lock()
		consumers := append([]string(nil), w.consumersOfProducer[handlerId]...)
		w.mutex.Unlock()

		for _, consumerId := range consumers {
			w.Notify(consumerId, event, nil)
		}
		return nil, nil

	case "consumer.close":
		w.mutex.Lock()
		if producerId, ok := w.producerOfConsumer[handlerId]; ok {
			consumers := w.consumersOfProducer[producerId]
			for i, id := range consumers {
				if id == handlerId {
					w.consumersOfProducer[producerId] = append(consumers[:i:i], consumers[i+1:]...)
					break
				}
			}
			delete(w.producerOfConsumer, handlerId)
		}
		w.mutex.Unlock()
		return nil, nil

	case "dataProducer.close":
		w.mutex.Lock()
		dataConsumers := w.dataConsumersOf[handlerId]
		delete(w.dataConsumersOf, handlerId)
		w.mutex.Unlock()

		for _, dataConsumerId := range dataConsumers {
			w.Notify(dataConsumerId, "dataproducerclose", nil)
		}
		return nil, nil

	default:
		return nil, nil
	}
}

// parseRequest splits the flat "<id>:<method>:<handlerId>:<data>" form.
func parseRequest(s string) (id uint32, method, handlerId string, data []byte, err error) {
	parts := strings.SplitN(s, ":", 4)
	if len(parts) != 4 {
		err = fmt.Errorf("malformed request '%s'", s)
		return
	}

	id64, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return
	}
	id = uint32(id64)
	method = parts[1]
	handlerId = parts[2]
	if parts[3] != "undefined" {
		data = []byte(parts[3])
	}
	return
}

func readFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	buf := make([]byte, binary.LittleEndian.Uint32(header[:]))
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func writeFrame(w io.Writer, payload []byte) error {
	buf := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[4:], payload)
	_, err := w.Write(buf)
	return err
}
