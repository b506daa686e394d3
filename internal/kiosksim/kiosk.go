package kiosksim

import (
	"context"
	"crypto/rand"
	"errors"
	"time"

	"github.com/pmuci/pointage/internal/domain/clockin"
)

const captureSize = 64

type identifyRequest struct {
	Matricule string `json:"matricule"`
}

type verifyRequest struct {
	Capture []byte `json:"capture"`
}

type signRequest struct {
	Signature []byte `json:"signature"`
}

type confirmView struct {
	Eligibility *struct {
		CanCommit bool   `json:"can_commit"`
		SlotIndex int    `json:"slot_index"`
		Reason    string `json:"reason"`
	} `json:"eligibility"`
}

// Walk takes matricule through every kiosk step on kioskID. It never
// returns an error: how far the attempt got is in the Attempt.
func (c *Client) Walk(ctx context.Context, kioskID, matricule string, round, verifyAttempts int) Attempt {
	start := time.Now()
	a := Attempt{Round: round, KioskID: kioskID, Matricule: matricule}

	if err := c.kiosk(ctx, kioskID, stepReset, nil, nil); err != nil {
		return a.stopped(start, stepReset, err)
	}
	if err := c.kiosk(ctx, kioskID, stepIdentify, identifyRequest{Matricule: matricule}, nil); err != nil {
		return a.stopped(start, stepIdentify, err)
	}

	var err error
	for range max(verifyAttempts, 1) {
		capture := make([]byte, captureSize)
		_, _ = rand.Read(capture)
		if err = c.kiosk(ctx, kioskID, stepVerify, verifyRequest{Capture: capture}, nil); codeOf(err) != codeVerificationFailed {
			break
		}
	}
	if err != nil {
		return a.stopped(start, stepVerify, err)
	}

	if err := c.kiosk(ctx, kioskID, stepSign, signRequest{Signature: []byte("sim:" + matricule)}, nil); err != nil {
		return a.stopped(start, stepSign, err)
	}

	var v confirmView
	if err := c.kiosk(ctx, kioskID, stepConfirm, nil, &v); err != nil {
		return a.stopped(start, stepConfirm, err)
	}
	if v.Eligibility == nil || !v.Eligibility.CanCommit {
		a.Step, a.Outcome, a.Elapsed = stepConfirm, OutcomeRefused, time.Since(start)
		if v.Eligibility != nil {
			a.Code = v.Eligibility.Reason
			if v.Eligibility.Reason == clockin.ReasonAlreadyRecorded {
				a.Outcome = OutcomeAlreadyRecorded
			}
		}
		return a
	}

	var res commitResponse
	if err := c.kiosk(ctx, kioskID, stepCommit, nil, &res); err != nil {
		return a.stopped(start, stepCommit, err)
	}
	slot := res.Record.SlotIndex
	a.SlotIndex = &slot
	a.Outcome = OutcomeCommitted
	a.Elapsed = time.Since(start)
	return a
}

// stopped records the step that ended the attempt. 4xx answers are
// refusals, anything else is a failure.
func (a Attempt) stopped(start time.Time, step string, err error) Attempt {
	a.Step = step
	a.Elapsed = time.Since(start)
	a.Outcome = OutcomeFailed

	var se *statusError
	if !errors.As(err, &se) {
		a.Code = err.Error()
		return a
	}
	a.Code = se.Code
	switch {
	case se.Code == codeDuplicateAttendance:
		a.Outcome = OutcomeAlreadyRecorded
	case se.Status < 500:
		a.Outcome = OutcomeRefused
	}
	return a
}

func codeOf(err error) string {
	var se *statusError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}
