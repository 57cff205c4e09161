package accounts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"account_service/internal/storage"
)

// ConsumeCode redeems a one-time verification code. A code is removed on any
// terminal outcome: consumed successfully, or found expired (the expired copy
// is evicted so it can never be replayed). An activation code marks the
// account verified; a restore code promotes the pending password hash to the
// active one and clears the pending field.
func (a *Accounts) ConsumeCode(ctx context.Context, nameOrEmail, code string) error {
	const op = "accounts.ConsumeCode"

	log := a.log.With(slog.String("op", op))

	acc, err := a.byNameOrEmail(ctx, nameOrEmail)
	if err != nil {
		if errors.Is(err, storage.ErrAccountNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	unlock := a.locks.Lock(acc.ID)
	defer unlock()

	acc, err = a.provider.Account(ctx, storage.Filter{ID: acc.ID})
	if err != nil {
		return fmt.Errorf("%s: account vanished during consume: %w", op, err)
	}

	i := acc.FindCode(code)
	if i < 0 {
		return ErrCodeNotFound
	}

	consumed := acc.MailCodes[i]
	acc.RemoveCode(i)

	if consumed.IsExpired() {
		if err := a.saver.UpdateAccount(ctx, acc.ID, acc); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return ErrCodeExpired
	}

	if consumed.Restore {
		if acc.NewPassHash != "" {
			acc.PassHash = acc.NewPassHash
			acc.NewPassHash = ""
		}
	} else {
		acc.Verified = true
	}

	if err := a.saver.UpdateAccount(ctx, acc.ID, acc); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	log.Info("code consumed",
		slog.String("id", acc.ID),
		slog.Bool("restore", consumed.Restore),
	)

	return nil
}
