package dispatcher

import (
	"encoding/xml"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ealebed/sqsmemu/internal/attrstore"
	"github.com/ealebed/sqsmemu/internal/registry"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	store, err := attrstore.New("", false)
	require.NoError(t, err)
	return New(registry.New(), store, nil, "http://localhost:8080", 30*time.Second, 10*time.Millisecond)
}

func post(t *testing.T, d *Dispatcher, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	d.Router().ServeHTTP(rec, req)
	return rec
}

func TestCreateQueue_ThenGetQueueUrl(t *testing.T) {
	d := newTestDispatcher(t)

	rec := post(t, d, url.Values{"Action": {"CreateQueue"}, "QueueName": {"orders"}})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "<QueueUrl>http://localhost:8080/orders</QueueUrl>")

	rec = post(t, d, url.Values{"Action": {"GetQueueUrl"}, "QueueName": {"orders"}})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http://localhost:8080/orders")
}

func TestGetQueueUrl_UnknownQueue(t *testing.T) {
	d := newTestDispatcher(t)
	rec := post(t, d, url.Values{"Action": {"GetQueueUrl"}, "QueueName": {"missing"}})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "AWS.SimpleQueueService.NonExistentQueue")
}

func TestSendReceiveDelete_RoundTrip(t *testing.T) {
	d := newTestDispatcher(t)
	post(t, d, url.Values{"Action": {"CreateQueue"}, "QueueName": {"orders"}})

	rec := post(t, d, url.Values{
		"Action": {"SendMessage"}, "QueueUrl": {"http://localhost:8080/orders"},
		"MessageBody": {"hello"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "<MessageId>")

	rec = post(t, d, url.Values{
		"Action": {"ReceiveMessage"}, "QueueUrl": {"http://localhost:8080/orders"},
		"MaxNumberOfMessages": {"5"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var received ReceiveMessageResponse
	require.NoError(t, xml.Unmarshal(rec.Body.Bytes(), &received))
	require.Len(t, received.Result.Messages, 1)
	require.Equal(t, "hello", received.Result.Messages[0].Body)
	handle := received.Result.Messages[0].ReceiptHandle
	require.NotEmpty(t, handle)

	// A second receive must not see the in-flight message again.
	rec = post(t, d, url.Values{
		"Action": {"ReceiveMessage"}, "QueueUrl": {"http://localhost:8080/orders"},
	})
	require.Equal(t, "<ReceiveMessageResponse><ReceiveMessageResult/></ReceiveMessageResponse>", rec.Body.String())

	rec = post(t, d, url.Values{
		"Action": {"DeleteMessage"}, "QueueUrl": {"http://localhost:8080/orders"},
		"ReceiptHandle": {handle},
	})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestDeleteMessage_StaleReceiptHandleRejected(t *testing.T) {
	d := newTestDispatcher(t)
	post(t, d, url.Values{"Action": {"CreateQueue"}, "QueueName": {"orders"}})

	rec := post(t, d, url.Values{
		"Action": {"DeleteMessage"}, "QueueUrl": {"http://localhost:8080/orders"},
		"ReceiptHandle": {"does-not-exist"},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "ReceiptHandleIsInvalid")
}

func TestChangeMessageVisibility_ZeroMakesImmediatelyVisible(t *testing.T) {
	d := newTestDispatcher(t)
	post(t, d, url.Values{"Action": {"CreateQueue"}, "QueueName": {"orders"}})
	post(t, d, url.Values{
		"Action": {"SendMessage"}, "QueueUrl": {"http://localhost:8080/orders"},
		"MessageBody": {"hello"},
	})

	rec := post(t, d, url.Values{
		"Action": {"ReceiveMessage"}, "QueueUrl": {"http://localhost:8080/orders"},
		"VisibilityTimeout": {"30"},
	})
	var received ReceiveMessageResponse
	require.NoError(t, xml.Unmarshal(rec.Body.Bytes(), &received))
	require.Len(t, received.Result.Messages, 1)
	handle := received.Result.Messages[0].ReceiptHandle

	rec = post(t, d, url.Values{
		"Action": {"ChangeMessageVisibility"}, "QueueUrl": {"http://localhost:8080/orders"},
		"ReceiptHandle": {handle}, "VisibilityTimeout": {"0"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = post(t, d, url.Values{
		"Action": {"ReceiveMessage"}, "QueueUrl": {"http://localhost:8080/orders"},
	})
	require.NoError(t, xml.Unmarshal(rec.Body.Bytes(), &received))
	require.Len(t, received.Result.Messages, 1)
}

func TestReceiveMessage_LongPollReturnsAsSoonAsMessageArrives(t *testing.T) {
	d := newTestDispatcher(t)
	post(t, d, url.Values{"Action": {"CreateQueue"}, "QueueName": {"orders"}})

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		done <- post(t, d, url.Values{
			"Action": {"ReceiveMessage"}, "QueueUrl": {"http://localhost:8080/orders"},
			"WaitTimeSeconds": {"5"},
		})
	}()

	time.Sleep(30 * time.Millisecond)
	post(t, d, url.Values{
		"Action": {"SendMessage"}, "QueueUrl": {"http://localhost:8080/orders"},
		"MessageBody": {"late arrival"},
	})

	select {
	case rec := <-done:
		require.Contains(t, rec.Body.String(), "late arrival")
	case <-time.After(2 * time.Second):
		t.Fatal("long poll did not return after message arrived")
	}
}

func TestGetQueueAttributes_MergesStoredAndComputed(t *testing.T) {
	d := newTestDispatcher(t)
	post(t, d, url.Values{
		"Action": {"CreateQueue"}, "QueueName": {"orders"},
		"Attribute.1.Name": {"VisibilityTimeout"}, "Attribute.1.Value": {"45"},
	})
	post(t, d, url.Values{
		"Action": {"SendMessage"}, "QueueUrl": {"http://localhost:8080/orders"},
		"MessageBody": {"hello"},
	})

	rec := post(t, d, url.Values{
		"Action": {"GetQueueAttributes"}, "QueueUrl": {"http://localhost:8080/orders"},
		"AttributeName.1": {"All"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, "<Name>VisibilityTimeout</Name><Value>45</Value>")
	require.Contains(t, body, "<Name>ApproximateNumberOfMessages</Name><Value>1</Value>")
}

func TestSetQueueAttributes_UpdatesDefaultVisibilityTimeout(t *testing.T) {
	d := newTestDispatcher(t)
	post(t, d, url.Values{"Action": {"CreateQueue"}, "QueueName": {"orders"}})

	rec := post(t, d, url.Values{
		"Action": {"SetQueueAttributes"}, "QueueUrl": {"http://localhost:8080/orders"},
		"Attribute.1.Name": {"VisibilityTimeout"}, "Attribute.1.Value": {"1"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	post(t, d, url.Values{
		"Action": {"SendMessage"}, "QueueUrl": {"http://localhost:8080/orders"},
		"MessageBody": {"hello"},
	})
	rec = post(t, d, url.Values{"Action": {"ReceiveMessage"}, "QueueUrl": {"http://localhost:8080/orders"}})
	var received ReceiveMessageResponse
	require.NoError(t, xml.Unmarshal(rec.Body.Bytes(), &received))
	require.Len(t, received.Result.Messages, 1)

	time.Sleep(1100 * time.Millisecond)

	rec = post(t, d, url.Values{"Action": {"ReceiveMessage"}, "QueueUrl": {"http://localhost:8080/orders"}})
	require.NoError(t, xml.Unmarshal(rec.Body.Bytes(), &received))
	require.Len(t, received.Result.Messages, 1, "message must have become visible again after the short timeout")
}

func TestListQueues_FiltersByPrefix(t *testing.T) {
	d := newTestDispatcher(t)
	post(t, d, url.Values{"Action": {"CreateQueue"}, "QueueName": {"orders-a"}})
	post(t, d, url.Values{"Action": {"CreateQueue"}, "QueueName": {"orders-b"}})
	post(t, d, url.Values{"Action": {"CreateQueue"}, "QueueName": {"billing"}})

	rec := post(t, d, url.Values{"Action": {"ListQueues"}, "QueueNamePrefix": {"orders-"}})
	var listed ListQueuesResponse
	require.NoError(t, xml.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed.Result.QueueURLs, 2)
}

func TestUnknownAction_IsBadRequest(t *testing.T) {
	d := newTestDispatcher(t)
	rec := post(t, d, url.Values{"Action": {"DoesNotExist"}})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAction_MatchingIsCaseInsensitive(t *testing.T) {
	d := newTestDispatcher(t)

	rec := post(t, d, url.Values{"Action": {"createqueue"}, "QueueName": {"orders"}})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = post(t, d, url.Values{"Action": {"SENDMESSAGE"}, "QueueUrl": {"http://localhost:8080/orders"}, "MessageBody": {"hi"}})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAction_AmazonSQSPrefixAcceptedInBody(t *testing.T) {
	d := newTestDispatcher(t)
	rec := post(t, d, url.Values{"Action": {"AmazonSQS.CreateQueue"}, "QueueName": {"orders"}})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http://localhost:8080/orders")
}

func TestAction_JSONProtocolHeaderIsRejected(t *testing.T) {
	d := newTestDispatcher(t)
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(url.Values{"Action": {"SendMessage"}}.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Amz-Target", "AmazonSQS.SendMessage")
	rec := httptest.NewRecorder()
	d.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "JSON is not supported yet")
}

func TestCreateQueue_IsIdempotentOnName(t *testing.T) {
	d := newTestDispatcher(t)
	post(t, d, url.Values{
		"Action": {"CreateQueue"}, "QueueName": {"orders"},
		"Attribute.1.Name": {"VisibilityTimeout"}, "Attribute.1.Value": {"5"},
	})
	post(t, d, url.Values{
		"Action": {"CreateQueue"}, "QueueName": {"orders"},
		"Attribute.1.Name": {"VisibilityTimeout"}, "Attribute.1.Value": {"999"},
	})

	rec := post(t, d, url.Values{
		"Action": {"GetQueueAttributes"}, "QueueUrl": {"http://localhost:8080/orders"},
		"AttributeName.1": {"VisibilityTimeout"},
	})
	require.Contains(t, rec.Body.String(), "<Value>5</Value>")
}
