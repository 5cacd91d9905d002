package opcua

import (
	"context"
	"errors"
	"testing"
	"time"

	gopcua "github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"
)

func testEndpoints() []*ua.EndpointDescription {
	return []*ua.EndpointDescription{
		{EndpointURL: "opc.tcp://plc:4840", SecurityPolicyURI: ua.SecurityPolicyURINone, SecurityMode: ua.MessageSecurityModeNone},
		{EndpointURL: "opc.tcp://plc:4840", SecurityPolicyURI: ua.SecurityPolicyURIBasic256Sha256, SecurityMode: ua.MessageSecurityModeSign},
		{EndpointURL: "opc.tcp://plc:4840", SecurityPolicyURI: ua.SecurityPolicyURIBasic256Sha256, SecurityMode: ua.MessageSecurityModeSignAndEncrypt},
	}
}

func TestPickEndpoint(t *testing.T) {
	tests := []struct {
		name     string
		security *Security
		wantURI  string
		wantMode ua.MessageSecurityMode
		wantErr  bool
	}{
		{
			name:     "no security",
			wantURI:  ua.SecurityPolicyURINone,
			wantMode: ua.MessageSecurityModeNone,
		},
		{
			name:     "sign and encrypt",
			security: &Security{Policy: "Basic256Sha256", Mode: "SignAndEncrypt"},
			wantURI:  ua.SecurityPolicyURIBasic256Sha256,
			wantMode: ua.MessageSecurityModeSignAndEncrypt,
		},
		{
			name:     "case insensitive",
			security: &Security{Policy: "basic256sha256", Mode: "sign"},
			wantURI:  ua.SecurityPolicyURIBasic256Sha256,
			wantMode: ua.MessageSecurityModeSign,
		},
		{
			name:     "policy not offered",
			security: &Security{Policy: "Basic128Rsa15", Mode: "Sign"},
			wantErr:  true,
		},
		{
			name:     "unknown policy",
			security: &Security{Policy: "Rot13", Mode: "Sign"},
			wantErr:  true,
		},
		{
			name:     "unknown mode",
			security: &Security{Policy: "Basic256Sha256", Mode: "Encrypt"},
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ep, err := pickEndpoint(testEndpoints(), tt.security)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("pickEndpoint() = %+v, want error", ep)
				}
				return
			}
			if err != nil {
				t.Fatalf("pickEndpoint() error = %v", err)
			}
			if ep.SecurityPolicyURI != tt.wantURI || ep.SecurityMode != tt.wantMode {
				t.Errorf("pickEndpoint() = %s/%s", ep.SecurityPolicyURI, securityModeStr(ep.SecurityMode))
			}
		})
	}
}

func TestPickEndpointNoMatchWrapsErrNoEndpoint(t *testing.T) {
	_, err := pickEndpoint(nil, nil)
	if !errors.Is(err, ErrNoEndpoint) {
		t.Errorf("pickEndpoint(nil) = %v, want ErrNoEndpoint", err)
	}
}

func TestPolicyURI(t *testing.T) {
	uri, err := PolicyURI("Aes128_Sha256_RsaOaep")
	if err != nil || uri != "http://opcfoundation.org/UA/SecurityPolicy#Aes128_Sha256_RsaOaep" {
		t.Errorf("PolicyURI(Aes128) = %q, %v", uri, err)
	}
	full := "http://opcfoundation.org/UA/SecurityPolicy#Basic256"
	if uri, _ := PolicyURI(full); uri != full {
		t.Errorf("PolicyURI(full) = %q", uri)
	}
}

func TestClientOptions(t *testing.T) {
	eps := testEndpoints()

	anon := clientOptions(eps[0], Options{ApplicationURI: "urn:host:gateway-client"})
	user := clientOptions(eps[0], Options{Username: "op", Password: "pw", SessionName: "gw"})
	secure := clientOptions(eps[2], Options{
		Security: &Security{Policy: "Basic256Sha256", Mode: "SignAndEncrypt", CertFile: "c.der", KeyFile: "k.pem"},
	})

	// security, autoreconnect, app uri, anonymous
	if len(anon) != 4 {
		t.Errorf("anonymous options = %d, want 4", len(anon))
	}
	// security, autoreconnect, session name, username
	if len(user) != 4 {
		t.Errorf("username options = %d, want 4", len(user))
	}
	// security, autoreconnect, anonymous, cert, key
	if len(secure) != 5 {
		t.Errorf("secure options = %d, want 5", len(secure))
	}
}

func TestToNotification(t *testing.T) {
	src := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	n := toNotification(3, &ua.DataValue{
		Value:           ua.MustVariant(float32(23.5)),
		SourceTimestamp: src,
	})
	if n.Handle != 3 || n.Value != float32(23.5) || !n.Timestamp.Equal(src) || n.Status != nil {
		t.Errorf("toNotification() = %+v", n)
	}

	srv := src.Add(time.Second)
	n = toNotification(4, &ua.DataValue{ServerTimestamp: srv, Status: ua.StatusBadNodeIDUnknown})
	if !errors.Is(n.Status, ErrBadStatus) {
		t.Errorf("Status = %v, want ErrBadStatus", n.Status)
	}
	if !n.Timestamp.Equal(srv) {
		t.Errorf("Timestamp = %v, want server timestamp", n.Timestamp)
	}
}

func TestParseNodeID(t *testing.T) {
	if _, err := parseNodeID("ns=2;s=Line1.Temperature"); err != nil {
		t.Errorf("parseNodeID(valid) error = %v", err)
	}
	if _, err := parseNodeID("i=2258"); err != nil {
		t.Errorf("parseNodeID(numeric) error = %v", err)
	}
	if _, err := parseNodeID("ns=x;q=1"); !errors.Is(err, ErrInvalidNodeID) {
		t.Errorf("parseNodeID(invalid) = %v, want ErrInvalidNodeID", err)
	}
}

func TestCloseIdempotent(t *testing.T) {
	c := &Client{logger: noopLogger{}}
	if err := c.Close(context.Background()); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := c.Close(context.Background()); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if _, _, err := c.Subscribe(context.Background(), time.Second, nil); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe() after Close = %v, want ErrNotConnected", err)
	}
}

func TestForward(t *testing.T) {
	c := &Client{logger: noopLogger{}}
	raw := make(chan *gopcua.PublishNotificationData, 4)
	out := make(chan Notification, 4)

	raw <- &gopcua.PublishNotificationData{Value: &ua.DataChangeNotification{
		MonitoredItems: []*ua.MonitoredItemNotification{
			{ClientHandle: 1, Value: &ua.DataValue{Value: ua.MustVariant(int32(7))}},
			{ClientHandle: 2, Value: nil},
			{ClientHandle: 3, Value: &ua.DataValue{Value: ua.MustVariant("on")}},
		},
	}}
	raw <- &gopcua.PublishNotificationData{Error: errors.New("session closed")}

	done := make(chan struct{})
	go func() {
		c.forward(context.Background(), raw, out)
		close(done)
	}()

	var got []Notification
	for n := range out {
		got = append(got, n)
	}
	<-done

	if len(got) != 3 {
		t.Fatalf("got %d notifications, want 3: %+v", len(got), got)
	}
	if got[0].Handle != 1 || got[0].Value != int32(7) {
		t.Errorf("first = %+v", got[0])
	}
	if got[1].Handle != 3 || got[1].Value != "on" {
		t.Errorf("second = %+v", got[1])
	}
	if !errors.Is(got[2].Err, ErrSubscriptionLost) {
		t.Errorf("last Err = %v, want ErrSubscriptionLost", got[2].Err)
	}
}

func TestForwardStopsOnCancel(t *testing.T) {
	c := &Client{logger: noopLogger{}}
	raw := make(chan *gopcua.PublishNotificationData)
	out := make(chan Notification)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.forward(ctx, raw, out)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("forward did not return after cancel")
	}
	if _, ok := <-out; ok {
		t.Error("out should be closed")
	}
}
