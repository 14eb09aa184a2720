package mfacore

import (
	"context"
	"errors"
	"testing"
)

func TestUSBTokenCompletesLogin(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	acc := te.registerActive(t, "Ada", "Lovelace", "ada@example.com", "")

	device, err := te.engine.RegisterUSBDevice(ctx, acc.UserID, "yubi-serial-0001", "desk key")
	if err != nil {
		t.Fatalf("register device: %v", err)
	}
	if !device.Active {
		t.Fatal("new device should be active")
	}

	if _, err := te.engine.RequestUSBChallenge(ctx, acc.UserID); err != nil {
		t.Fatalf("request challenge: %v", err)
	}
	auth, err := te.engine.ValidateUSBToken(ctx, acc.UserID, "yubi-serial-0001", "test")
	if err != nil {
		t.Fatalf("validate token: %v", err)
	}
	if _, err := te.engine.ValidateSession(ctx, auth.Token); err != nil {
		t.Fatalf("session after usb login: %v", err)
	}

	// The challenge is gone once redeemed.
	if _, err := te.engine.ValidateUSBToken(ctx, acc.UserID, "yubi-serial-0001", "test"); !errors.Is(err, ErrChallengeConsumed) {
		t.Fatalf("replay: got %v, want ErrChallengeConsumed", err)
	}
}

func TestUSBChallengeRequiresActiveDevice(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	acc := te.registerActive(t, "Ada", "Lovelace", "ada@example.com", "")

	if _, err := te.engine.RequestUSBChallenge(ctx, acc.UserID); !errors.Is(err, ErrDeviceNotRegistered) {
		t.Fatalf("no devices: got %v, want ErrDeviceNotRegistered", err)
	}

	device, err := te.engine.RegisterUSBDevice(ctx, acc.UserID, "yubi-serial-0001", "desk key")
	if err != nil {
		t.Fatalf("register device: %v", err)
	}
	if err := te.engine.SetUSBDeviceActive(ctx, acc.UserID, device.ID, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := te.engine.RequestUSBChallenge(ctx, acc.UserID); !errors.Is(err, ErrDeviceNotRegistered) {
		t.Fatalf("all devices disabled: got %v, want ErrDeviceNotRegistered", err)
	}
}

func TestUSBWrongIdentifierRejected(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	acc := te.registerActive(t, "Ada", "Lovelace", "ada@example.com", "")

	if _, err := te.engine.RegisterUSBDevice(ctx, acc.UserID, "yubi-serial-0001", "desk key"); err != nil {
		t.Fatalf("register device: %v", err)
	}
	if _, err := te.engine.RequestUSBChallenge(ctx, acc.UserID); err != nil {
		t.Fatalf("request challenge: %v", err)
	}

	if _, err := te.engine.ValidateUSBToken(ctx, acc.UserID, "someone-elses-key", "test"); !errors.Is(err, ErrChallengeInvalid) {
		t.Fatalf("got %v, want ErrChallengeInvalid", err)
	}
	// A miss does not burn the challenge.
	if _, err := te.engine.ValidateUSBToken(ctx, acc.UserID, "yubi-serial-0001", "test"); err != nil {
		t.Fatalf("validate after miss: %v", err)
	}
}

func TestDisabledDeviceCannotRedeemChallenge(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	acc := te.registerActive(t, "Ada", "Lovelace", "ada@example.com", "")

	device, err := te.engine.RegisterUSBDevice(ctx, acc.UserID, "yubi-serial-0001", "desk key")
	if err != nil {
		t.Fatalf("register device: %v", err)
	}
	if _, err := te.engine.RequestUSBChallenge(ctx, acc.UserID); err != nil {
		t.Fatalf("request challenge: %v", err)
	}

	// The device state is checked live at validation: disabling it after
	// issuance retracts its ability to redeem the outstanding challenge.
	if err := te.engine.SetUSBDeviceActive(ctx, acc.UserID, device.ID, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := te.engine.ValidateUSBToken(ctx, acc.UserID, "yubi-serial-0001", "test"); !errors.Is(err, ErrChallengeInvalid) {
		t.Fatalf("disabled device: got %v, want ErrChallengeInvalid", err)
	}

	// The rejection did not consume the challenge; re-enabling restores it.
	if err := te.engine.SetUSBDeviceActive(ctx, acc.UserID, device.ID, true); err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	if _, err := te.engine.ValidateUSBToken(ctx, acc.UserID, "yubi-serial-0001", "test"); err != nil {
		t.Fatalf("validate after reactivation: %v", err)
	}
}

func TestListUSBDevices(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	acc := te.registerActive(t, "Ada", "Lovelace", "ada@example.com", "")

	if _, err := te.engine.RegisterUSBDevice(ctx, acc.UserID, "yubi-serial-0001", "desk key"); err != nil {
		t.Fatalf("register: %v", err)
	}
	second, err := te.engine.RegisterUSBDevice(ctx, acc.UserID, "yubi-serial-0002", "backup key")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := te.engine.SetUSBDeviceActive(ctx, acc.UserID, second.ID, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	devices, err := te.engine.ListUSBDevices(ctx, acc.UserID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("got %d devices, want 2", len(devices))
	}
	active := 0
	for _, d := range devices {
		if d.Active {
			active++
		}
	}
	if active != 1 {
		t.Fatalf("got %d active devices, want 1", active)
	}
}
