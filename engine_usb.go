package mfacore

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/nvrivera/mfacore/internal/stores"
	"github.com/nvrivera/mfacore/userstore"
)

// RegisterUSBDevice binds a hardware token to the account. The identifier is
// whatever stable value the token presents (serial, key handle); the service
// only ever compares it byte for byte.
func (e *Engine) RegisterUSBDevice(ctx context.Context, userID, identifier, name string) (*Device, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, ErrDeviceNotRegistered
	}

	user, err := e.users.FindByID(ctx, userID)
	if err != nil {
		return nil, mapUserErr(err)
	}

	device := userstore.USBDevice{
		ID:         uuid.NewString(),
		UserID:     user.ID,
		Identifier: identifier,
		Name:       strings.TrimSpace(name),
		Active:     true,
		CreatedAt:  e.now(),
	}
	if err := e.users.AddUSBDevice(ctx, &device); err != nil {
		return nil, mapUserErr(err)
	}

	e.emitAudit(ctx, auditDeviceRegistered, true, user.ID, "", nil, map[string]string{
		"device_id": device.ID,
		"name":      device.Name,
	})
	return &Device{
		ID:        device.ID,
		Name:      device.Name,
		Active:    device.Active,
		CreatedAt: device.CreatedAt,
	}, nil
}

// SetUSBDeviceActive enables or disables a registered device without
// removing it.
func (e *Engine) SetUSBDeviceActive(ctx context.Context, userID, deviceID string, active bool) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if err := e.users.SetUSBDeviceActive(ctx, userID, deviceID, active); err != nil {
		if errors.Is(err, userstore.ErrNotFound) {
			return ErrDeviceNotRegistered
		}
		return mapUserErr(err)
	}
	e.emitAudit(ctx, auditDeviceStateSet, true, userID, "", nil, map[string]string{
		"device_id": deviceID,
		"active":    boolString(active),
	})
	return nil
}

// ListUSBDevices returns every device bound to the account, active or not.
func (e *Engine) ListUSBDevices(ctx context.Context, userID string) ([]Device, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	rows, err := e.users.USBDevices(ctx, userID)
	if err != nil {
		return nil, mapUserErr(err)
	}
	devices := make([]Device, 0, len(rows))
	for _, row := range rows {
		devices = append(devices, Device{
			ID:        row.ID,
			Name:      row.Name,
			Active:    row.Active,
			CreatedAt: row.CreatedAt,
		})
	}
	return devices, nil
}

// RequestUSBChallenge issues a token challenge snapshotting the currently
// active device set. The snapshot fixes which devices the challenge can
// match; validation still checks the live row, so a device disabled after
// issuance cannot redeem it.
func (e *Engine) RequestUSBChallenge(ctx context.Context, userID string) (*ChallengeInfo, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	user, err := e.users.FindByID(ctx, userID)
	if err != nil {
		return nil, mapUserErr(err)
	}

	rows, err := e.users.USBDevices(ctx, user.ID)
	if err != nil {
		return nil, mapUserErr(err)
	}
	entries := make([]stores.DeviceEntry, 0, len(rows))
	for _, row := range rows {
		if !row.Active {
			continue
		}
		entries = append(entries, stores.DeviceEntry{
			ID:         row.ID,
			Identifier: row.Identifier,
			Name:       row.Name,
			Active:     true,
		})
	}
	if len(entries) == 0 {
		return nil, ErrDeviceNotRegistered
	}

	challenge := &stores.Challenge{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Kind:      stores.KindUSBToken,
		ExpiresAt: e.now().Add(e.config.Challenge.TTL).Unix(),
		Devices:   entries,
	}
	if err := e.challenges.Save(ctx, challenge, e.config.Challenge.TTL); err != nil {
		return nil, mapChallengeErr(err)
	}

	e.metricInc(MetricChallengeIssued)
	e.emitAudit(ctx, auditChallengeIssued, true, user.ID, "", nil, map[string]string{
		"kind":         stores.KindUSBToken.String(),
		"challenge_id": challenge.ID,
	})
	return challengeInfo(challenge), nil
}

// ValidateUSBToken completes login when the presented identifier matches one
// of the devices snapshotted into the latest token challenge.
func (e *Engine) ValidateUSBToken(ctx context.Context, userID, identifier, origin string) (*AuthResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	ctx = WithOrigin(ctx, origin)

	user, err := e.users.FindByID(ctx, userID)
	if err != nil {
		return nil, mapUserErr(err)
	}
	if !user.Active {
		return nil, ErrAccountInactive
	}

	challenge, err := e.challenges.LatestForUser(ctx, user.ID, stores.KindUSBToken)
	if err != nil {
		return nil, e.rejectChallenge(ctx, user.ID, stores.KindUSBToken, mapChallengeErr(err))
	}
	if challenge.Used {
		return nil, e.rejectChallenge(ctx, user.ID, stores.KindUSBToken, ErrChallengeConsumed)
	}

	identifier = strings.TrimSpace(identifier)
	var matched *stores.DeviceEntry
	for i := range challenge.Devices {
		if subtle.ConstantTimeCompare([]byte(challenge.Devices[i].Identifier), []byte(identifier)) == 1 {
			matched = &challenge.Devices[i]
			break
		}
	}
	if matched == nil {
		return nil, e.rejectChallenge(ctx, user.ID, stores.KindUSBToken, ErrChallengeInvalid)
	}

	// The device must still be enabled now, not just at issuance.
	rows, err := e.users.USBDevices(ctx, user.ID)
	if err != nil {
		return nil, mapUserErr(err)
	}
	live := false
	for _, row := range rows {
		if row.ID == matched.ID && row.Active {
			live = true
			break
		}
	}
	if !live {
		return nil, e.rejectChallenge(ctx, user.ID, stores.KindUSBToken, ErrChallengeInvalid)
	}

	claimed, err := e.challenges.Claim(ctx, challenge.ID)
	if err != nil {
		return nil, e.rejectChallenge(ctx, user.ID, stores.KindUSBToken, mapChallengeErr(err))
	}
	if !claimed {
		return nil, e.rejectChallenge(ctx, user.ID, stores.KindUSBToken, ErrChallengeConsumed)
	}

	e.metricInc(MetricChallengeValidated)
	e.emitAudit(ctx, auditChallengeValid, true, user.ID, "", nil, map[string]string{
		"kind":         stores.KindUSBToken.String(),
		"challenge_id": challenge.ID,
	})
	return e.completeLogin(ctx, user, origin)
}

func boolString(v bool) string {
	if v {
		return "true"
	}
	return "false"
}
