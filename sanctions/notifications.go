package sanctions

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"facette.io/natsort"

	"github.com/amp-labs/osf-moderation/models"
	"github.com/amp-labs/osf-moderation/notify"
	"github.com/amp-labs/osf-moderation/store"
)

type dataFunc func(userID string) map[string]any

func same(data map[string]any) dataFunc {
	return func(string) map[string]any { return data }
}

// send renders tpl for every user and queues the messages for after the
// commit. Rendering failures are logged and the recipient skipped.
func (s *Service) send(ctx context.Context, tx store.Tx, tpl notify.Template, userIDs []string, data dataFunc) {
	ids := slices.Clone(userIDs)
	natsort.Sort(ids)
	ids = slices.Compact(ids)

	msgs := make([]notify.Message, 0, len(ids))

	for _, id := range ids {
		msg, err := notify.Build(tpl, s.recipient(ctx, tx, id), data(id))
		if err != nil {
			s.log.ErrorContext(ctx, "failed to build notification",
				"template", string(tpl),
				"to", id,
				"error", err)

			continue
		}

		msgs = append(msgs, msg)
	}

	if len(msgs) == 0 {
		return
	}

	tx.AfterCommit(func(ctx context.Context) {
		s.notifier.Notify(ctx, msgs...)
	})
}

// recipient falls back to a bare id for users the store does not know.
func (s *Service) recipient(ctx context.Context, tx store.Tx, userID string) notify.Recipient {
	to := notify.Recipient{UserID: userID}

	user, err := store.Load[models.User](ctx, tx, userID)
	if err != nil {
		return to
	}

	to.Name = user.DisplayName()
	to.Email = user.Email

	return to
}

func (s *Service) data(sub *Subject, comment string) map[string]any {
	data := map[string]any{
		"sanction": sanctionName(sub),
		"title":    sub.Registration.Title,
		"comment":  comment,

		"provider_contact_email": sub.Provider.ContactEmail(s.contactEmail),
		"provider_support_email": sub.Provider.SupportEmail(s.supportEmail),
	}

	if sub.Provider != nil {
		data["provider"] = sub.Provider.Name
	}

	return data
}

// recipientIDs is the initiator plus every authorizer.
func (s *Service) recipientIDs(sub *Subject) []string {
	ids := sub.Sanction.ApproverIDs()
	if sub.Sanction.InitiatedBy != "" {
		ids = append(ids, sub.Sanction.InitiatedBy)
	}

	return ids
}

func (s *Service) tokenURL(registrationID, token string) string {
	return fmt.Sprintf("%s/token_action/%s/?token=%s", strings.TrimRight(s.domain, "/"), registrationID, token)
}
