package client

import (
	"context"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/conneroisu/flowtree/internal/logging"
)

// CommsNotifier subscribes to the server's /comms websocket and calls
// hint whenever a frame arrives. It is purely an accelerator: the hint
// asks the poller for an immediate conditional fetch, every document
// transfer still goes through the HTTP client. Connection failures are
// tolerated with backoff; the poller covers any gap.
type CommsNotifier struct {
	baseURL string
	cred    Credential
	hint    func()
	log     logging.Logger
}

// NewCommsNotifier creates a notifier for the given base URL.
func NewCommsNotifier(baseURL string, cred Credential, hint func(), log logging.Logger) *CommsNotifier {
	if log == nil {
		log = logging.NewNop()
	}
	return &CommsNotifier{
		baseURL: baseURL,
		cred:    cred,
		hint:    hint,
		log:     log.WithComponent("comms"),
	}
}

// Run connects and reads until ctx is cancelled, reconnecting with
// capped backoff.
func (n *CommsNotifier) Run(ctx context.Context) {
	url := wsURL(n.baseURL) + "/comms"
	backoff := time.Second

	for ctx.Err() == nil {
		if err := n.listen(ctx, url); err != nil && ctx.Err() == nil {
			n.log.Debug(ctx, "comms connection lost", "error", err.Error(), "retry_in", backoff.String())
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (n *CommsNotifier) listen(ctx context.Context, url string) error {
	opts := &websocket.DialOptions{}
	if n.cred.Type == "bearer" {
		opts.HTTPHeader = map[string][]string{
			"Authorization": {"Bearer " + n.cred.Token},
		}
	}

	conn, _, err := websocket.Dial(ctx, url, opts)
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "shutdown")

	n.log.Debug(ctx, "comms connected", "url", url)
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return err
		}
		// Any runtime event may mean new flows; a conditional fetch is
		// cheap either way.
		n.hint()
	}
}

func wsURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base
}
