// Package gate screens every user-generated write before it reaches content
// storage, combining restriction, velocity, and reputation checks into a
// single decision. The gate sits on the hot write path: every external check
// runs under a tight deadline and falls back to a configured conservative
// default instead of blocking the write.
package gate

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/haven-social/guardrail/countstore"
	"github.com/haven-social/guardrail/helpers"
	"github.com/haven-social/guardrail/models"
	"github.com/haven-social/guardrail/reputation"
	"github.com/haven-social/guardrail/restriction"
	"github.com/haven-social/guardrail/setstore"
)

var (
	// ErrWriteRejected is a hard reject (active ban or restrict_create);
	// callers surface 403.
	ErrWriteRejected = errors.New("write rejected")
	// ErrCaptchaRequired signals the caller must solve a captcha and retry.
	ErrCaptchaRequired = errors.New("captcha required")
)

const linkPlaceholder = "[link removed]"

// FailMode picks the conservative default applied when the counter store
// cannot be reached.
type FailMode string

const (
	FailModeAllow  FailMode = "allow"
	FailModeShadow FailMode = "shadow"
	FailModeReject FailMode = "reject"
)

type Config struct {
	// per-surface writes-per-minute ceiling before the gate escalates;
	// zero means the surface is not burst-checked
	BurstThresholds map[string]int
	// burst past this multiple of the threshold escalates to captcha
	// instead of shadow
	CaptchaBurstFactor int
	ShadowTTL          time.Duration
	CaptchaTTL         time.Duration
	// decoy trips get much longer TTLs than organic bursts
	HoneypotShadowTTL  time.Duration
	HoneypotCaptchaTTL time.Duration
	LinkCooloff        time.Duration
	// set name consulted for domains exempt from link stripping
	LinkAllowlistSet string
	CounterFailMode  FailMode
	CheckTimeout     time.Duration
}

func DefaultConfig() Config {
	return Config{
		BurstThresholds: map[string]int{
			"post":    12,
			"comment": 30,
			"message": 20,
		},
		CaptchaBurstFactor: 3,
		ShadowTTL:          4 * time.Hour,
		CaptchaTTL:         1 * time.Hour,
		HoneypotShadowTTL:  72 * time.Hour,
		HoneypotCaptchaTTL: 24 * time.Hour,
		LinkCooloff:        24 * time.Hour,
		LinkAllowlistSet:   "link-allowlist",
		CounterFailMode:    FailModeShadow,
		CheckTimeout:       5 * time.Millisecond,
	}
}

// WriteContext carries an incoming write through the gate. The gate augments
// it in place: Text may be rewritten (link stripping), and the output flags
// tell the caller how to persist and distribute the content.
type WriteContext struct {
	Text string
	// Honeypot is set by the transport when the write hit a decoy action.
	Honeypot bool

	// outputs
	Shadow      bool
	StripLinks  bool
	LinkCooloff bool
	Meta        map[string]string
}

type Gate struct {
	config       Config
	counters     countstore.CountStore
	reputations  *reputation.Service
	restrictions *restriction.Service
	sets         setstore.SetStore
	logger       *slog.Logger
}

func New(config Config, counters countstore.CountStore, reputations *reputation.Service, restrictions *restriction.Service, sets setstore.SetStore, logger *slog.Logger) *Gate {
	return &Gate{
		config:       config,
		counters:     counters,
		reputations:  reputations,
		restrictions: restrictions,
		sets:         sets,
		logger:       logger.With("system", "gate"),
	}
}

// Enforce runs the decision ladder for one write. It never returns an error
// for benign content: a nil return means "persist, honoring the flags set on
// wctx". ErrWriteRejected and ErrCaptchaRequired are the only hard outcomes.
//
// Decision order (first hard outcome governs; soft flags combine):
// restrictions, velocity burst, reputation band, honeypot.
func (g *Gate) Enforce(ctx context.Context, userID, surface string, wctx *WriteContext) error {
	if wctx.Meta == nil {
		wctx.Meta = make(map[string]string)
	}

	cctx, cancel := context.WithTimeout(ctx, g.config.CheckTimeout)
	defer cancel()

	modes, err := g.restrictions.ActiveModes(cctx, userID, surface)
	if err != nil {
		// restriction store unreachable: treat like a counter failure
		g.logger.Warn("restriction lookup failed, applying conservative default", "err", err, "userID", userID)
		return g.applyFailMode(wctx)
	}
	if modes[models.RestrictionBan] || modes[models.RestrictionRestrictCreate] {
		gateDecisions.WithLabelValues(surface, "reject").Inc()
		return ErrWriteRejected
	}
	if modes[models.RestrictionShadow] {
		wctx.Shadow = true
	}
	if modes[models.RestrictionCaptcha] {
		gateDecisions.WithLabelValues(surface, "captcha").Inc()
		return ErrCaptchaRequired
	}

	if err := g.checkVelocity(cctx, ctx, userID, surface, wctx); err != nil {
		return err
	}

	score, err := g.reputations.GetOrCreate(cctx, userID)
	if err != nil {
		g.logger.Warn("reputation lookup failed, skipping band checks", "err", err, "userID", userID)
	} else if score.Band == models.BandBanned {
		gateDecisions.WithLabelValues(surface, "reject").Inc()
		return ErrWriteRejected
	} else if score.Band == models.BandLow {
		g.stripLinks(ctx, wctx)
	}

	if wctx.Honeypot {
		if err := g.escalate(ctx, userID, surface, wctx, g.config.HoneypotShadowTTL, g.config.HoneypotCaptchaTTL, "honeypot trip"); err != nil {
			return err
		}
	}

	outcome := "allow"
	if wctx.Shadow {
		outcome = "shadow"
	}
	gateDecisions.WithLabelValues(surface, outcome).Inc()
	return nil
}

// checkVelocity reads under the tight check deadline (cctx) but applies any
// resulting restrictions under the request context, so audit writes are not
// cut off by the read budget.
func (g *Gate) checkVelocity(cctx, ctx context.Context, userID, surface string, wctx *WriteContext) error {
	threshold := g.config.BurstThresholds[surface]
	if threshold <= 0 {
		return nil
	}
	count, err := g.counters.Increment(cctx, "write/"+surface, userID, countstore.WindowMinute)
	if err != nil {
		g.logger.Warn("velocity counter unavailable, applying conservative default", "err", err, "userID", userID, "surface", surface)
		gateCounterFailures.Inc()
		return g.applyFailMode(wctx)
	}
	if count <= threshold {
		return nil
	}
	factor := g.config.CaptchaBurstFactor
	if factor > 0 && count > threshold*factor {
		return g.escalate(ctx, userID, surface, wctx, 0, g.config.CaptchaTTL, "velocity burst")
	}
	return g.escalate(ctx, userID, surface, wctx, g.config.ShadowTTL, 0, "velocity burst")
}

// escalate records the gate's own enforcement as restrictions, so the
// decision is auditable and revocable like any staff action. A zero TTL
// skips that mode.
func (g *Gate) escalate(ctx context.Context, userID, surface string, wctx *WriteContext, shadowTTL, captchaTTL time.Duration, reason string) error {
	if shadowTTL > 0 {
		if _, err := g.restrictions.Apply(ctx, userID, surface, models.RestrictionShadow, reason, &shadowTTL, "gate"); err != nil {
			g.logger.Error("failed to apply shadow restriction", "err", err, "userID", userID)
		}
		wctx.Shadow = true
	}
	if captchaTTL > 0 {
		if _, err := g.restrictions.Apply(ctx, userID, surface, models.RestrictionCaptcha, reason, &captchaTTL, "gate"); err != nil {
			g.logger.Error("failed to apply captcha restriction", "err", err, "userID", userID)
		}
		gateDecisions.WithLabelValues(surface, "captcha").Inc()
		return ErrCaptchaRequired
	}
	return nil
}

func (g *Gate) stripLinks(ctx context.Context, wctx *WriteContext) {
	urls := helpers.DedupeStrings(helpers.ExtractTextURLs(wctx.Text))
	stripped := false
	for _, u := range urls {
		domain := helpers.URLDomain(u)
		if g.config.LinkAllowlistSet != "" {
			if ok, err := g.sets.InSet(ctx, g.config.LinkAllowlistSet, domain); err == nil && ok {
				continue
			}
		}
		wctx.Text = strings.ReplaceAll(wctx.Text, u, linkPlaceholder)
		stripped = true
	}
	if stripped {
		wctx.StripLinks = true
		wctx.LinkCooloff = true
		wctx.Meta["link_cooloff"] = g.config.LinkCooloff.String()
	}
}

func (g *Gate) applyFailMode(wctx *WriteContext) error {
	switch g.config.CounterFailMode {
	case FailModeReject:
		return ErrWriteRejected
	case FailModeShadow:
		wctx.Shadow = true
		return nil
	default:
		return nil
	}
}
