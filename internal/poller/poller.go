package poller

import (
	"context"
	"log"
	"time"

	"training-lab-control-plane/internal/session/domain"
)

// API is the control-plane surface the poller needs.
type API interface {
	GetSession(ctx context.Context, id string) (*domain.Session, error)
}

// Surface is the remote lab surface the poller drives. Disconnects delivers
// a notification whenever the surface observes a disconnect condition; the
// surface can change state asynchronously between polls, so the poller
// watches the channel continuously rather than checking once.
type Surface interface {
	Render(s *domain.Session)
	RenderEnded(s *domain.Session)
	Disconnects() <-chan struct{}
	Reconnect(ctx context.Context) error
	Close()
}

// Options carries poller timing knobs.
type Options struct {
	// PollInterval is the session status poll period. Default 3s.
	PollInterval time.Duration
	// EarlyWindow is the span from start during which one automatic
	// reconnect is attempted on disconnect. Default 15s.
	EarlyWindow time.Duration
}

// Poller runs as a single cooperative loop. It polls session status only
// while the session is PENDING or PROVISIONING and stops polling the moment
// any other status is observed. Cancellation of the context tears the loop
// down with no dangling timers.
type Poller struct {
	api       API
	surface   Surface
	sessionID string
	opts      Options

	nowF func() time.Time
}

func New(api API, surface Surface, sessionID string, opts Options) *Poller {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 3 * time.Second
	}
	if opts.EarlyWindow <= 0 {
		opts.EarlyWindow = 15 * time.Second
	}
	return &Poller{
		api:       api,
		surface:   surface,
		sessionID: sessionID,
		opts:      opts,
		nowF:      func() time.Time { return time.Now().UTC() },
	}
}

// Run drives the session until it ends or ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	start := p.nowF()
	reconnected := false

	sess, err := p.api.GetSession(ctx, p.sessionID)
	if err != nil {
		return err
	}
	p.surface.Render(sess)

	ticker := time.NewTicker(p.opts.PollInterval)
	defer ticker.Stop()

	polling := sess.Status == domain.StatusPending || sess.Status == domain.StatusProvisioning
	if sess.Status.Terminal() {
		p.end(sess)
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-p.surface.Disconnects():
			inWindow := p.nowF().Sub(start) < p.opts.EarlyWindow
			if inWindow && !reconnected {
				reconnected = true
				if err := p.surface.Reconnect(ctx); err == nil {
					continue
				}
				log.Printf("[poller] reconnect failed for %s", p.sessionID)
			}
			p.end(sess)
			return nil

		case <-ticker.C:
			if !polling {
				continue
			}
			latest, err := p.api.GetSession(ctx, p.sessionID)
			if err != nil {
				log.Printf("[poller] poll %s: %v", p.sessionID, err)
				continue
			}
			sess = latest
			p.surface.Render(sess)

			switch sess.Status {
			case domain.StatusPending, domain.StatusProvisioning:
				// keep polling
			case domain.StatusTerminated, domain.StatusError:
				p.end(sess)
				return nil
			default:
				// READY or ACTIVE: stop polling, keep watching the
				// surface for disconnects.
				polling = false
			}
		}
	}
}

func (p *Poller) end(sess *domain.Session) {
	p.surface.RenderEnded(sess)
	p.surface.Close()
}
