package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/iliyamo/smartmess-leaves/internal/model"
)

// UserActionStore persists the audit trail.
type UserActionStore interface {
	Create(ctx context.Context, a *model.UserAction) error
}

// UserActionInput is an owner or admin action against a member.
type UserActionInput struct {
	UserID  uint64
	Action  model.UserActionType
	Reason  string
	MessID  uint64 // admins only
	Message string // notify only; defaults to Reason
}

// UserActionService applies log, notify and flag actions.
type UserActionService struct {
	messes     *MessResolver
	members    MemberDirectory
	actions    UserActionStore
	dispatcher Broadcaster
	log        zerolog.Logger
	now        func() time.Time
}

func NewUserActionService(messes *MessResolver, members MemberDirectory, actions UserActionStore,
	dispatcher Broadcaster, log zerolog.Logger) *UserActionService {
	return &UserActionService{
		messes:     messes,
		members:    members,
		actions:    actions,
		dispatcher: dispatcher,
		log:        log.With().Str("component", "user_action").Logger(),
		now:        time.Now,
	}
}

// Apply records the action and performs its side effect.  The target must
// belong to the caller's mess; otherwise repository.ErrUserNotFound is
// returned.  It returns the message shown to the caller.
func (s *UserActionService) Apply(ctx context.Context, actorID uint64, role model.Role, in UserActionInput) (string, error) {
	if in.UserID == 0 {
		return "", invalid("userId", "is required")
	}
	if !in.Action.Valid() {
		return "", invalid("action", "must be one of log, notify, flag")
	}
	in.Reason = strings.TrimSpace(in.Reason)
	if in.Reason == "" {
		return "", invalid("reason", "is required")
	}
	mess, err := s.messes.ForActor(ctx, actorID, role, in.MessID)
	if err != nil {
		return "", err
	}
	target, err := s.members.GetMember(ctx, mess.ID, in.UserID)
	if err != nil {
		return "", err
	}

	if in.Action == model.UserActionNotify {
		msg := strings.TrimSpace(in.Message)
		if msg == "" {
			msg = in.Reason
		}
		t := Template{Title: "Message from " + mess.Name, Message: msg, Type: model.NotificationAdmin}
		if err := s.dispatcher.SendOne(ctx, target, t); err != nil {
			return "", fmt.Errorf("notify user: %w", err)
		}
	}

	a := &model.UserAction{
		MessID:    mess.ID,
		ActorID:   actorID,
		UserID:    target.ID,
		Action:    in.Action,
		Reason:    in.Reason,
		CreatedAt: s.now().UTC(),
	}
	if err := s.actions.Create(ctx, a); err != nil {
		return "", fmt.Errorf("record user action: %w", err)
	}
	s.log.Info().
		Uint64("mess_id", mess.ID).
		Uint64("actor_id", actorID).
		Uint64("user_id", target.ID).
		Str("action", string(in.Action)).
		Str("reason", in.Reason).
		Msg("user action applied")

	switch in.Action {
	case model.UserActionNotify:
		return "Notification sent to user", nil
	case model.UserActionFlag:
		return "User flagged for review", nil
	default:
		return "User action logged", nil
	}
}
