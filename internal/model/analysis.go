package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Analysis represents an analysis definition document
type Analysis struct {
	ID          primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	Title       string             `json:"title" bson:"title"`
	Description string             `json:"description,omitempty" bson:"description,omitempty"`
	Topic       string             `json:"topic" bson:"topic"`
	Sources     []Source           `json:"sources" bson:"sources"`
	Rules       []InsightRule      `json:"rules,omitempty" bson:"rules,omitempty"`
	Webhook     *Webhook           `json:"webhook,omitempty" bson:"webhook,omitempty"`
	Metadata    Metadata           `json:"metadata" bson:"metadata"`

	// Last-known run state, persisted so snapshot reads survive restarts
	Status    Phase     `json:"status" bson:"status"`
	Progress  int       `json:"progress" bson:"progress"`
	Error     string    `json:"error,omitempty" bson:"error,omitempty"`
	LastRunAt time.Time `json:"last_run_at,omitempty" bson:"last_run_at,omitempty"`

	Schedule         string    `json:"schedule,omitempty" bson:"schedule,omitempty"`
	ScheduleEnabled  bool      `json:"schedule_enabled" bson:"schedule_enabled"`
	LastScheduledRun time.Time `json:"last_scheduled_run,omitempty" bson:"last_scheduled_run,omitempty"`
	NextScheduledRun time.Time `json:"next_scheduled_run,omitempty" bson:"next_scheduled_run,omitempty"`
}

// Validate validates the entire analysis definition
func (a *Analysis) Validate() error {
	if a.Title == "" {
		return errors.New("analysis title is required")
	}

	if len(a.Title) > 255 {
		return errors.New("analysis title must be 255 characters or less")
	}

	if a.Topic == "" {
		return errors.New("analysis topic is required")
	}

	if len(a.Sources) == 0 {
		return errors.New("at least one source is required")
	}
	for i, source := range a.Sources {
		if err := source.Validate(); err != nil {
			return errors.New("source " + source.Name + " validation failed: " + err.Error())
		}
		a.Sources[i] = source // Update in case validation modified the source
	}

	for i, rule := range a.Rules {
		if err := rule.Validate(); err != nil {
			return errors.New("rule " + rule.Name + " validation failed: " + err.Error())
		}
		a.Rules[i] = rule
	}

	if a.Webhook != nil {
		if err := a.Webhook.Validate(); err != nil {
			return err
		}
	}

	// Validate schedule if enabled
	if a.ScheduleEnabled {
		if a.Schedule == "" {
			return errors.New("schedule is required when schedule_enabled is true")
		}

		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
		schedule, err := parser.Parse(a.Schedule)
		if err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}

		now := time.Now().UTC()
		if a.NextScheduledRun.IsZero() {
			a.NextScheduledRun = schedule.Next(now)
		}
	}

	if a.Status == "" {
		a.Status = PhasePending
	}

	now := time.Now().UTC()
	if a.Metadata.CreatedAt.IsZero() {
		a.Metadata.CreatedAt = now
	}
	if a.Metadata.UpdatedAt.IsZero() {
		a.Metadata.UpdatedAt = now
	}

	return nil
}

// CurrentUpdate builds a ProcessUpdate snapshot from the persisted state.
// Used for catch-up reads when no in-memory machine entry exists.
func (a *Analysis) CurrentUpdate() ProcessUpdate {
	return ProcessUpdate{
		AnalysisID:   a.ID.Hex(),
		Phase:        a.Status,
		Progress:     a.Progress,
		ErrorMessage: a.Error,
		UpdatedAt:    a.Metadata.UpdatedAt,
	}
}

// AnalysisListItem represents a summary of an analysis for list responses
type AnalysisListItem struct {
	ID               string    `json:"id"`
	Title            string    `json:"title"`
	Description      string    `json:"description,omitempty"`
	Topic            string    `json:"topic"`
	SourcesCount     int       `json:"sources_count"`
	RulesCount       int       `json:"rules_count"`
	Status           Phase     `json:"status"`
	Progress         int       `json:"progress"`
	LastRunAt        time.Time `json:"last_run_at,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
	Tags             []string  `json:"tags,omitempty"`
	Schedule         string    `json:"schedule,omitempty"`
	ScheduleEnabled  bool      `json:"schedule_enabled"`
	NextScheduledRun time.Time `json:"next_scheduled_run,omitempty"`
}

// ToListItem converts Analysis to AnalysisListItem
func (a *Analysis) ToListItem() AnalysisListItem {
	return AnalysisListItem{
		ID:               a.ID.Hex(),
		Title:            a.Title,
		Description:      a.Description,
		Topic:            a.Topic,
		SourcesCount:     len(a.Sources),
		RulesCount:       len(a.Rules),
		Status:           a.Status,
		Progress:         a.Progress,
		LastRunAt:        a.LastRunAt,
		CreatedAt:        a.Metadata.CreatedAt,
		UpdatedAt:        a.Metadata.UpdatedAt,
		Tags:             a.Metadata.Tags,
		Schedule:         a.Schedule,
		ScheduleEnabled:  a.ScheduleEnabled,
		NextScheduledRun: a.NextScheduledRun,
	}
}
