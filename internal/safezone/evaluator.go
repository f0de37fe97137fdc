package safezone

import (
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/askwhyharsh/safezone/internal/location"
	"github.com/askwhyharsh/safezone/pkg/logger"
)

const (
	DefaultExitCooldown = 5 * time.Minute
	DefaultAlertDisplay = 10 * time.Second

	// ExitSound is the cue clients play when an exit alert is raised.
	ExitSound = "alarm"
)

// Membership is the relation of one position to one zone.
type Membership struct {
	ZoneID         string  `json:"zone_id"`
	ZoneName       string  `json:"zone_name"`
	DistanceMeters float64 `json:"distance_meters"`
	Inside         bool    `json:"inside"`
}

// ExitEvent is raised when the user is outside every zone and the nearest
// zone's cooldown has elapsed.
type ExitEvent struct {
	ID             string            `json:"id"`
	UserID         string            `json:"user_id"`
	ZoneID         string            `json:"zone_id"`
	ZoneName       string            `json:"zone_name"`
	Position       location.Position `json:"position"`
	DistanceMeters float64           `json:"distance_meters"`
	OccurredAt     time.Time         `json:"occurred_at"`
	DisplayUntil   time.Time         `json:"display_until"`
	Sound          string            `json:"sound"`
}

// Evaluation is the outcome of one position against a zone snapshot.
type Evaluation struct {
	Position    location.Position `json:"position"`
	Memberships []Membership      `json:"memberships"`
	Protected   bool              `json:"protected"`
	Score       int               `json:"score"`
	Nearest     *Membership       `json:"nearest,omitempty"`
	Exit        *ExitEvent        `json:"exit,omitempty"`
	Skipped     []string          `json:"skipped,omitempty"`
}

type Options struct {
	Cooldown     time.Duration
	AlertDisplay time.Duration
	Now          func() time.Time
}

// Evaluator tracks per-zone alert cooldowns for one user. It is safe for
// concurrent use, though a monitor feeds it sequentially.
type Evaluator struct {
	userID string
	opts   Options
	logger logger.Logger

	mu        sync.Mutex
	lastAlert map[string]time.Time
}

func NewEvaluator(userID string, opts Options, log logger.Logger) *Evaluator {
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultExitCooldown
	}
	if opts.AlertDisplay <= 0 {
		opts.AlertDisplay = DefaultAlertDisplay
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Evaluator{
		userID:    userID,
		opts:      opts,
		logger:    log,
		lastAlert: make(map[string]time.Time),
	}
}

// Evaluate computes membership, score and a possible exit event. Zones that
// fail validation are skipped and listed in Skipped; they never abort the run.
func (e *Evaluator) Evaluate(pos location.Position, zones []Zone) Evaluation {
	result := Evaluation{
		Position:    pos,
		Memberships: make([]Membership, 0, len(zones)),
	}

	var nearest *Membership
	for _, z := range zones {
		if err := z.Validate(); err != nil {
			e.logger.Warn("Skipping invalid safe zone", "user_id", e.userID, "zone_id", z.ID, "error", err)
			result.Skipped = append(result.Skipped, z.ID)
			continue
		}
		d := location.DistanceMeters(pos.Point, *z.Center)
		m := Membership{
			ZoneID:         z.ID,
			ZoneName:       z.Name,
			DistanceMeters: d,
			Inside:         d <= z.RadiusMeters,
		}
		result.Memberships = append(result.Memberships, m)
		if m.Inside {
			result.Protected = true
		}
		if nearest == nil || d < nearest.DistanceMeters {
			cp := m
			nearest = &cp
		}
	}

	result.Nearest = nearest
	if nearest == nil {
		result.Score = 0
		return result
	}
	result.Score = Score(result.Protected, nearest.DistanceMeters)

	if result.Protected {
		return result
	}

	now := e.opts.Now()
	e.mu.Lock()
	last, alerted := e.lastAlert[nearest.ZoneID]
	fire := !alerted || now.Sub(last) > e.opts.Cooldown
	if fire {
		e.lastAlert[nearest.ZoneID] = now
	}
	e.mu.Unlock()

	if fire {
		result.Exit = &ExitEvent{
			ID:             uuid.New().String(),
			UserID:         e.userID,
			ZoneID:         nearest.ZoneID,
			ZoneName:       nearest.ZoneName,
			Position:       pos,
			DistanceMeters: nearest.DistanceMeters,
			OccurredAt:     now,
			DisplayUntil:   now.Add(e.opts.AlertDisplay),
			Sound:          ExitSound,
		}
		e.logger.Info("Safe zone exit detected",
			"user_id", e.userID,
			"zone_id", nearest.ZoneID,
			"distance_m", math.Round(nearest.DistanceMeters),
		)
	}

	return result
}

// Reset forgets every cooldown.
func (e *Evaluator) Reset() {
	e.mu.Lock()
	e.lastAlert = make(map[string]time.Time)
	e.mu.Unlock()
}

// LastAlert returns when an exit alert was last raised for zoneID.
func (e *Evaluator) LastAlert(zoneID string) (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.lastAlert[zoneID]
	return t, ok
}

// Score maps the distance to the nearest zone center onto 0-100. Being
// inside any zone scores 100; outside, every kilometre costs 20 points.
func Score(protected bool, nearestMeters float64) int {
	if protected {
		return 100
	}
	s := 100 - nearestMeters/1000*20
	s = math.Max(0, math.Min(100, s))
	return int(math.Round(s))
}
