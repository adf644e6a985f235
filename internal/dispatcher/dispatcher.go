// Package dispatcher implements the SQS Query-protocol HTTP surface: one
// handler per action, form decoding, XML response encoding, and the
// long-poll ReceiveMessage loop. It is the only package that knows about
// HTTP or the wire format; registry and queue know nothing of either.
package dispatcher

import (
	"crypto/md5"
	"encoding/hex"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ealebed/sqsmemu/internal/attrstore"
	"github.com/ealebed/sqsmemu/internal/queue"
	"github.com/ealebed/sqsmemu/internal/registry"
	"github.com/ealebed/sqsmemu/internal/sqsmodel"
)

const (
	minReceiveCount     = 1
	maxReceiveCount     = 10
	maxWaitTimeSeconds  = 20
	defaultReceiveCount = 1
)

// Dispatcher wires the registry, the durable attribute store, and metrics
// into the nine SQS actions spec.md §4 names.
type Dispatcher struct {
	registry  *registry.Registry
	attrStore *attrstore.Store
	metrics   *Metrics

	queueHost                string
	defaultVisibilityTimeout time.Duration
	longPollTick             time.Duration
}

// New builds a Dispatcher. metrics may be nil, in which case metric updates
// are no-ops.
func New(reg *registry.Registry, store *attrstore.Store, metrics *Metrics, queueHost string, defaultVisibilityTimeout, longPollTick time.Duration) *Dispatcher {
	return &Dispatcher{
		registry:                 reg,
		attrStore:                store,
		metrics:                  metrics,
		queueHost:                queueHost,
		defaultVisibilityTimeout: defaultVisibilityTimeout,
		longPollTick:             longPollTick,
	}
}

// Router returns the mux.Router exposing the emulator's three endpoints:
// the Query-protocol POST root, a liveness probe, and Prometheus metrics.
func (d *Dispatcher) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", d.handle).Methods(http.MethodPost)
	r.HandleFunc("/healthz", d.handleHealthz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return r
}

func (d *Dispatcher) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type actionFunc func(d *Dispatcher, w http.ResponseWriter, r *http.Request, f *form) error

// actions is keyed by lowercased action name: matching is case-insensitive
// per spec.md §4.5/§6, so the lookup in handle folds case before indexing.
var actions = map[string]actionFunc{
	"createqueue":             (*Dispatcher).handleCreateQueue,
	"listqueues":              (*Dispatcher).handleListQueues,
	"getqueueurl":             (*Dispatcher).handleGetQueueURL,
	"getqueueattributes":      (*Dispatcher).handleGetQueueAttributes,
	"setqueueattributes":      (*Dispatcher).handleSetQueueAttributes,
	"sendmessage":             (*Dispatcher).handleSendMessage,
	"receivemessage":          (*Dispatcher).handleReceiveMessage,
	"deletemessage":           (*Dispatcher).handleDeleteMessage,
	"changemessagevisibility": (*Dispatcher).handleChangeMessageVisibility,
}

// handle is the single entry point the Query protocol POSTs against: it
// resolves the action name, decodes the form body, runs the matching
// handler, and records the outcome.
func (d *Dispatcher) handle(w http.ResponseWriter, r *http.Request) {
	f, err := parseForm(r)
	if err != nil {
		d.fail(w, "unknown", internalError(err))
		return
	}

	action, aerr := resolveAction(r, f)
	if aerr != nil {
		d.fail(w, "unknown", aerr)
		return
	}

	fn, ok := actions[strings.ToLower(action)]
	if !ok {
		d.fail(w, action, badRequest("unknown action: "+action))
		return
	}

	if err := fn(d, w, r, f); err != nil {
		d.fail(w, action, err)
		return
	}
	d.metrics.observe(action, "success")
}

func (d *Dispatcher) fail(w http.ResponseWriter, action string, err error) {
	d.metrics.observe(action, "error")
	writeError(w, err)
}

// resolveAction takes the action name from the X-Amz-Target header when
// present, else from the "Action" form field. A header value starting with
// "AmazonSQS" is how AWS's JSON protocol selects an action; this emulator
// only speaks the Query protocol, so such a request is rejected outright
// rather than dispatched. Any other header value is used verbatim. An
// "AmazonSQS." prefix on the body's Action value is accepted and stripped,
// per spec.md §4.5.
func resolveAction(r *http.Request, f *form) (string, error) {
	if target := r.Header.Get("X-Amz-Target"); target != "" {
		if strings.HasPrefix(target, "AmazonSQS") {
			return "", badRequest("JSON is not supported yet")
		}
		return target, nil
	}
	name := f.get("Action")
	if name == "" {
		return "", badRequest("Action is required")
	}
	name = strings.TrimPrefix(name, "AmazonSQS.")
	return name, nil
}

func newRequestID() string {
	return uuid.New().String()
}

func (d *Dispatcher) handleCreateQueue(w http.ResponseWriter, r *http.Request, f *form) error {
	name := f.get("QueueName")
	if name == "" {
		return badRequest("QueueName is required")
	}

	attrs := f.namedPairs("Attribute")
	visibility := d.defaultVisibilityTimeout
	if v, ok := attrs["VisibilityTimeout"]; ok {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return badRequest("VisibilityTimeout must be an integer")
		}
		visibility = time.Duration(secs) * time.Second
	}

	tagPairs := f.namedPairs("Tag")
	tags := make([]queue.Tag, 0, len(tagPairs))
	for k, v := range tagPairs {
		tags = append(tags, queue.Tag{Key: k, Value: v})
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].Key < tags[j].Key })

	existed := d.registry.Exists(name)
	d.registry.Create(name, visibility, tags)
	if !existed && len(attrs) > 0 {
		if err := d.attrStore.Set(name, attrs); err != nil {
			return internalError(err)
		}
	}
	d.metrics.setQueueCount(len(d.registry.List("")))

	return writeXML(w, CreateQueueResponse{
		Result:   CreateQueueResult{QueueURL: queueURL(d.queueHost, name)},
		Metadata: ResponseMetadata{RequestID: newRequestID()},
	})
}

func (d *Dispatcher) handleListQueues(w http.ResponseWriter, r *http.Request, f *form) error {
	prefix := f.get("QueueNamePrefix")
	names := d.registry.List(prefix)
	sort.Strings(names)

	urls := make([]string, len(names))
	for i, n := range names {
		urls[i] = queueURL(d.queueHost, n)
	}

	return writeXML(w, ListQueuesResponse{
		Result:   ListQueuesResult{QueueURLs: urls},
		Metadata: ResponseMetadata{RequestID: newRequestID()},
	})
}

func (d *Dispatcher) handleGetQueueURL(w http.ResponseWriter, r *http.Request, f *form) error {
	name := f.get("QueueName")
	if name == "" {
		return badRequest("QueueName is required")
	}
	if !d.registry.Exists(name) {
		return nonExistentQueue(name)
	}
	return writeXML(w, GetQueueUrlResponse{
		Result:   GetQueueUrlResult{QueueURL: queueURL(d.queueHost, name)},
		Metadata: ResponseMetadata{RequestID: newRequestID()},
	})
}

func (d *Dispatcher) queueNameFromRequest(f *form) (string, error) {
	name := queueNameFromURL(f.get("QueueUrl"))
	if name == "" {
		return "", badRequest("QueueUrl is required")
	}
	if !d.registry.Exists(name) {
		return "", nonExistentQueue(name)
	}
	return name, nil
}

func (d *Dispatcher) handleGetQueueAttributes(w http.ResponseWriter, r *http.Request, f *form) error {
	name, err := d.queueNameFromRequest(f)
	if err != nil {
		return err
	}

	var visible, notVisible int
	var visibility time.Duration
	now := time.Now()
	_ = d.registry.WithQueue(name, func(q *queue.Queue) {
		visible = q.ApproximateVisible(now)
		notVisible = q.ApproximateNotVisible(now)
		visibility = q.DefaultVisibilityTimeout
	})

	merged := d.attrStore.Get(name)
	merged["VisibilityTimeout"] = strconv.Itoa(int(visibility.Seconds()))
	merged["ApproximateNumberOfMessages"] = strconv.Itoa(visible)
	merged["ApproximateNumberOfMessagesNotVisible"] = strconv.Itoa(notVisible)

	requested := f.indexedNames("AttributeName")
	wantAll := len(requested) == 0
	for _, n := range requested {
		if n == "All" {
			wantAll = true
		}
	}

	names := make([]string, 0, len(merged))
	if wantAll {
		for k := range merged {
			names = append(names, k)
		}
	} else {
		names = requested
	}
	sort.Strings(names)

	result := GetQueueAttributesResult{}
	for _, n := range names {
		v, ok := merged[n]
		if !ok {
			continue
		}
		result.Attributes = append(result.Attributes, Attribute{Name: n, Value: v})
	}

	return writeXML(w, GetQueueAttributesResponse{
		Result:   result,
		Metadata: ResponseMetadata{RequestID: newRequestID()},
	})
}

func (d *Dispatcher) handleSetQueueAttributes(w http.ResponseWriter, r *http.Request, f *form) error {
	name, err := d.queueNameFromRequest(f)
	if err != nil {
		return err
	}

	attrs := f.namedPairs("Attribute")
	if v, ok := attrs["VisibilityTimeout"]; ok {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return badRequest("VisibilityTimeout must be an integer")
		}
		_ = d.registry.WithQueue(name, func(q *queue.Queue) {
			q.SetDefaultVisibilityTimeout(time.Duration(secs) * time.Second)
		})
	}

	if len(attrs) > 0 {
		if err := d.attrStore.Set(name, attrs); err != nil {
			return internalError(err)
		}
	}

	return writeXML(w, SetQueueAttributesResponse{
		Metadata: ResponseMetadata{RequestID: newRequestID()},
	})
}

func (d *Dispatcher) handleSendMessage(w http.ResponseWriter, r *http.Request, f *form) error {
	name, err := d.queueNameFromRequest(f)
	if err != nil {
		return err
	}

	body := f.get("MessageBody")
	if body == "" {
		return badRequest("MessageBody is required")
	}

	sum := md5.Sum([]byte(body))
	md5hex := hex.EncodeToString(sum[:])
	id := uuid.New().String()

	msg := sqsmodel.NewMessage(id, body, md5hex, time.Now())
	_ = d.registry.WithQueue(name, func(q *queue.Queue) {
		q.Push(msg)
	})

	return writeXML(w, SendMessageResponse{
		Result:   SendMessageResult{MessageID: id, MD5OfMessageBody: md5hex},
		Metadata: ResponseMetadata{RequestID: newRequestID()},
	})
}

func (d *Dispatcher) handleReceiveMessage(w http.ResponseWriter, r *http.Request, f *form) error {
	name, err := d.queueNameFromRequest(f)
	if err != nil {
		return err
	}

	maxMessages := defaultReceiveCount
	if v := f.get("MaxNumberOfMessages"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return badRequest("MaxNumberOfMessages must be an integer")
		}
		maxMessages = n
	}
	if maxMessages < minReceiveCount {
		maxMessages = minReceiveCount
	}
	if maxMessages > maxReceiveCount {
		maxMessages = maxReceiveCount
	}

	waitSeconds := 0
	if v := f.get("WaitTimeSeconds"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return badRequest("WaitTimeSeconds must be an integer")
		}
		waitSeconds = n
	}
	if waitSeconds > maxWaitTimeSeconds {
		waitSeconds = maxWaitTimeSeconds
	}
	if waitSeconds < 0 {
		waitSeconds = 0
	}

	var visibilityOverride time.Duration
	hasOverride := false
	if v := f.get("VisibilityTimeout"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return badRequest("VisibilityTimeout must be an integer")
		}
		visibilityOverride = time.Duration(secs) * time.Second
		hasOverride = true
	}

	requestedAttrs := f.indexedNames("AttributeName")
	wantAllAttrs := len(requestedAttrs) == 0
	for _, n := range requestedAttrs {
		if n == "All" {
			wantAllAttrs = true
		}
	}

	messages, err := receiveWithLongPoll(
		r.Context(), d.registry, name, maxMessages,
		visibilityOverride, hasOverride,
		time.Duration(waitSeconds)*time.Second, d.longPollTick,
	)
	if err != nil {
		return internalError(err)
	}

	if len(messages) == 0 {
		writeEmptyReceiveMessage(w)
		return nil
	}

	result := ReceiveMessageResult{Messages: make([]ReceivedMessage, 0, len(messages))}
	for _, m := range messages {
		rm := ReceivedMessage{
			MessageID:     m.ID,
			ReceiptHandle: m.ReceiptHandle,
			MD5OfBody:     m.MD5,
			Body:          m.Body,
		}
		if wantAllAttrs || containsName(requestedAttrs, "ApproximateReceiveCount") {
			rm.Attributes = append(rm.Attributes, Attribute{
				Name: "ApproximateReceiveCount", Value: strconv.Itoa(m.ReceiveCount),
			})
		}
		if wantAllAttrs || containsName(requestedAttrs, "ApproximateFirstReceiveTimestamp") {
			rm.Attributes = append(rm.Attributes, Attribute{
				Name:  "ApproximateFirstReceiveTimestamp",
				Value: strconv.FormatInt(m.FirstReceivedAt.UnixMilli(), 10),
			})
		}
		result.Messages = append(result.Messages, rm)
	}

	return writeXML(w, ReceiveMessageResponse{
		Result:   result,
		Metadata: ResponseMetadata{RequestID: newRequestID()},
	})
}

func containsName(names []string, target string) bool {
	for _, n := range names {
		if n == target {
			return true
		}
	}
	return false
}

func (d *Dispatcher) handleDeleteMessage(w http.ResponseWriter, r *http.Request, f *form) error {
	name, err := d.queueNameFromRequest(f)
	if err != nil {
		return err
	}

	handle := f.get("ReceiptHandle")
	if handle == "" {
		return badRequest("ReceiptHandle is required")
	}

	var ok bool
	_ = d.registry.WithQueue(name, func(q *queue.Queue) {
		ok = q.DeleteByReceiptHandle(handle)
	})
	if !ok {
		return invalidReceiptHandle(handle)
	}

	return writeXML(w, DeleteMessageResponse{
		Metadata: ResponseMetadata{RequestID: newRequestID()},
	})
}

func (d *Dispatcher) handleChangeMessageVisibility(w http.ResponseWriter, r *http.Request, f *form) error {
	name, err := d.queueNameFromRequest(f)
	if err != nil {
		return err
	}

	handle := f.get("ReceiptHandle")
	if handle == "" {
		return badRequest("ReceiptHandle is required")
	}

	secs, err := strconv.Atoi(f.get("VisibilityTimeout"))
	if err != nil {
		return badRequest("VisibilityTimeout must be an integer")
	}

	var ok bool
	now := time.Now()
	_ = d.registry.WithQueue(name, func(q *queue.Queue) {
		ok = q.ChangeVisibility(handle, time.Duration(secs)*time.Second, now)
	})
	if !ok {
		return invalidReceiptHandle(handle)
	}

	return writeXML(w, ChangeMessageVisibilityResponse{
		Metadata: ResponseMetadata{RequestID: newRequestID()},
	})
}
