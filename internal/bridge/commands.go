package bridge

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/purifier-bridge/internal/audit"
	"github.com/nerrad567/purifier-bridge/internal/codec"
	"github.com/nerrad567/purifier-bridge/internal/coordinator"
	"github.com/nerrad567/purifier-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/purifier-bridge/internal/normalize"
)

// auditWriteTimeout bounds one audit insert.
const auditWriteTimeout = 5 * time.Second

// NewCommandID returns a random command ID.
func NewCommandID() string {
	return uuid.NewString()
}

// handleCommand is the MQTT handler for {prefix}/command/+. The command is
// executed on its own goroutine so slow devices do not stall the MQTT
// client.
func (b *Bridge) handleCommand(topic string, payload []byte) error {
	kind, deviceID, _, ok := b.topics.ParseDeviceTopic(topic)
	if !ok || kind != mqtt.KindCommand {
		b.logger.Debug("ignoring message on unexpected topic", "topic", topic)
		return nil
	}
	if b.stopped() {
		return nil
	}
	b.commandsReceived.Add(1)

	cmd, err := ParseCommand(payload)
	if cmd.ID == "" {
		cmd.ID = b.newID()
	}
	if err != nil {
		b.commandsFailed.Add(1)
		b.publishAck(deviceID, cmd, AckFailed, &AckError{Code: ErrCodeInvalidCommand, Message: err.Error()})
		return err
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.execute(deviceID, cmd)
	}()
	return nil
}

func (b *Bridge) execute(deviceID string, cmd CommandMessage) {
	ctx, cancel := context.WithTimeout(b.ctx, b.commandTimeout)
	defer cancel()

	b.logger.Debug("executing command", "endpoint", deviceID, "command_id", cmd.ID, "field", cmd.Field)
	err := b.controller.Set(ctx, deviceID, cmd.Field, cmd.Value)
	b.recordAudit(deviceID, cmd, err)
	if err == nil {
		b.publishAck(deviceID, cmd, AckAccepted, nil)
		return
	}

	b.commandsFailed.Add(1)
	status, ackErr := classify(err)
	b.logger.Warn("command failed",
		"endpoint", deviceID,
		"command_id", cmd.ID,
		"field", cmd.Field,
		"code", ackErr.Code,
		"error", err,
	)
	b.publishAck(deviceID, cmd, status, ackErr)
}

// recordAudit stores the outcome of an executed command.
func (b *Bridge) recordAudit(deviceID string, cmd CommandMessage, setErr error) {
	if b.audit == nil {
		return
	}
	e := &audit.Entry{
		DeviceID:  deviceID,
		Field:     cmd.Field,
		Value:     cmd.Value,
		Source:    audit.SourceMQTT,
		CommandID: cmd.ID,
		Result:    audit.ResultOK,
	}
	if setErr != nil {
		e.Result = audit.ResultFailed
		e.Error = setErr.Error()
	}

	ctx, cancel := context.WithTimeout(context.Background(), auditWriteTimeout)
	defer cancel()
	if err := b.audit.Create(ctx, e); err != nil {
		b.logger.Warn("recording audit entry failed", "endpoint", deviceID, "command_id", cmd.ID, "error", err)
	}
}

// classify maps a Set error to an ack status and error code.
func classify(err error) (AckStatus, *AckError) {
	ackErr := &AckError{Message: err.Error()}
	status := AckFailed

	switch {
	case errors.Is(err, coordinator.ErrNotFound):
		ackErr.Code = ErrCodeNotConfigured
	case errors.Is(err, codec.ErrUnsupportedCapability):
		ackErr.Code = ErrCodeUnsupportedField
	case errors.Is(err, normalize.ErrInvalidValue):
		ackErr.Code = ErrCodeInvalidValue
	case errors.Is(err, coordinator.ErrStopped), errors.Is(err, context.Canceled):
		ackErr.Code = ErrCodeBridgeError
	default:
		reason := coordinator.Reason(err)
		ackErr.Reason = reason
		switch reason {
		case coordinator.ReasonTimeout, coordinator.ReasonCanceled:
			status = AckTimeout
			ackErr.Code = ErrCodeTimeout
		case coordinator.ReasonUnreachable:
			ackErr.Code = ErrCodeDeviceUnreachable
		case coordinator.ReasonRejected:
			ackErr.Code = ErrCodeDeviceRejected
		default:
			ackErr.Code = ErrCodeProtocolError
		}
	}
	return status, ackErr
}

func (b *Bridge) publishAck(deviceID string, cmd CommandMessage, status AckStatus, ackErr *AckError) {
	msg := AckMessage{
		CommandID: cmd.ID,
		DeviceID:  deviceID,
		Field:     cmd.Field,
		Status:    status,
		Timestamp: time.Now().UTC(),
		Error:     ackErr,
	}
	b.publishJSON(b.topics.DeviceAck(deviceID), msg, false)
}
