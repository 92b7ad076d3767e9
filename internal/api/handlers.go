package api

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/calumw/pilltick/internal/auth"
	apperrors "github.com/calumw/pilltick/internal/errors"
	"github.com/calumw/pilltick/internal/medication"
	"github.com/calumw/pilltick/internal/store"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// strictDecode parses the request body rejecting unknown fields, so typos in
// client payloads fail loudly instead of being silently dropped.
func strictDecode(c *fiber.Ctx, dst interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(c.Body()))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// ==================== Auth ====================

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(c *fiber.Ctx) error {
	var req credentialsRequest
	if err := strictDecode(c, &req); err != nil {
		return fail(c, apperrors.ErrBadRequest)
	}
	if req.Username == "" || len(req.Password) < 8 {
		return c.Status(400).JSON(fiber.Map{"error": "username required and password must be at least 8 characters"})
	}

	existing, err := s.store.GetUserByUsername(req.Username)
	if err != nil {
		return fail(c, err)
	}
	if existing != nil {
		return fail(c, apperrors.ErrUserExists)
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return fail(c, err)
	}

	user := &store.User{
		ID:           store.NewID("usr"),
		Username:     req.Username,
		PasswordHash: hash,
	}
	if err := s.store.CreateUser(user); err != nil {
		return fail(c, err)
	}

	token, err := s.tokens.IssueToken(user.ID, user.Username)
	if err != nil {
		return fail(c, err)
	}
	return c.Status(201).JSON(fiber.Map{"token": token, "user_id": user.ID})
}

func (s *Server) handleLogin(c *fiber.Ctx) error {
	var req credentialsRequest
	if err := strictDecode(c, &req); err != nil {
		return fail(c, apperrors.ErrBadRequest)
	}

	user, err := s.store.GetUserByUsername(req.Username)
	if err != nil {
		return fail(c, err)
	}
	if user == nil || !auth.CheckPassword(user.PasswordHash, req.Password) {
		return fail(c, apperrors.ErrBadCredentials)
	}

	token, err := s.tokens.IssueToken(user.ID, user.Username)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"token": token, "user_id": user.ID})
}

// ==================== Reminders ====================

type reminderRequest struct {
	Name           string   `json:"name"`
	Dosage         string   `json:"dosage"`
	Frequency      string   `json:"frequency"`
	Times          []string `json:"times"`
	Instructions   string   `json:"instructions"`
	Sound          string   `json:"sound"`
	Vibrate        *bool    `json:"vibrate"`
	RepeatUntilAck *bool    `json:"repeat_until_ack"`
	SnoozeMinutes  *int     `json:"snooze_minutes"`
	Active         *bool    `json:"active"`
}

func (req *reminderRequest) apply(rem *medication.Reminder) {
	rem.Name = req.Name
	rem.Dosage = req.Dosage
	rem.Frequency = medication.Frequency(req.Frequency)
	rem.Times = req.Times
	rem.Instructions = req.Instructions
	if req.Sound != "" {
		rem.Sound = req.Sound
	}
	if req.Vibrate != nil {
		rem.Vibrate = *req.Vibrate
	}
	if req.RepeatUntilAck != nil {
		rem.RepeatUntilAck = *req.RepeatUntilAck
	}
	if req.SnoozeMinutes != nil {
		rem.SnoozeMinutes = *req.SnoozeMinutes
	}
	if req.Active != nil {
		rem.Active = *req.Active
	}
}

func (s *Server) handleCreateReminder(c *fiber.Ctx) error {
	var req reminderRequest
	if err := strictDecode(c, &req); err != nil {
		return fail(c, apperrors.ErrBadRequest)
	}

	rem := &medication.Reminder{
		UserID:         userID(c),
		Active:         true,
		Vibrate:        true,
		RepeatUntilAck: true,
	}
	req.apply(rem)

	if err := s.meds.CreateReminder(rem); err != nil {
		return fail(c, err)
	}
	s.refreshEngine()
	return c.Status(201).JSON(rem)
}

func (s *Server) handleListReminders(c *fiber.Ctx) error {
	activeOnly := c.QueryBool("active_only", false)
	reminders, err := s.meds.ListReminders(userID(c), activeOnly)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(reminders)
}

func (s *Server) handleGetReminder(c *fiber.Ctx) error {
	rem, err := s.ownedReminder(c)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(rem)
}

func (s *Server) handleUpdateReminder(c *fiber.Ctx) error {
	rem, err := s.ownedReminder(c)
	if err != nil {
		return fail(c, err)
	}

	var req reminderRequest
	if err := strictDecode(c, &req); err != nil {
		return fail(c, apperrors.ErrBadRequest)
	}
	req.apply(rem)

	if err := s.meds.UpdateReminder(rem); err != nil {
		return fail(c, err)
	}
	s.refreshEngine()
	return c.JSON(rem)
}

func (s *Server) handleDeleteReminder(c *fiber.Ctx) error {
	rem, err := s.ownedReminder(c)
	if err != nil {
		return fail(c, err)
	}

	if err := s.meds.DeleteReminder(rem.ID); err != nil {
		return fail(c, err)
	}
	s.refreshEngine()
	return c.SendStatus(204)
}

func (s *Server) handleSetReminderActive(c *fiber.Ctx) error {
	rem, err := s.ownedReminder(c)
	if err != nil {
		return fail(c, err)
	}

	var req struct {
		Active bool `json:"active"`
	}
	if err := strictDecode(c, &req); err != nil {
		return fail(c, apperrors.ErrBadRequest)
	}

	if err := s.meds.SetActive(rem.ID, req.Active); err != nil {
		return fail(c, err)
	}
	s.refreshEngine()
	return c.JSON(fiber.Map{"id": rem.ID, "active": req.Active})
}

func (s *Server) ownedReminder(c *fiber.Ctx) (*medication.Reminder, error) {
	rem, err := s.meds.GetReminder(c.Params("id"))
	if err != nil {
		return nil, err
	}
	if rem == nil || rem.UserID != userID(c) {
		return nil, apperrors.ErrReminderNotFound
	}
	return rem, nil
}

// refreshEngine reloads the alarm engine's reminder cache after a mutation
func (s *Server) refreshEngine() {
	if s.engine == nil {
		return
	}
	if err := s.engine.Refresh(); err != nil {
		s.logger.Warn("Engine refresh failed", zap.Error(err))
	}
}

// ==================== Schedule ====================

type scheduleEntry struct {
	ReminderID string `json:"reminder_id"`
	Name       string `json:"name"`
	Dosage     string `json:"dosage,omitempty"`
	Slot       string `json:"slot"`
	Status     string `json:"status"`
}

// handleTodaySchedule renders the day's slots with their current status:
// resolved slots from the dose log, open alarms from the engine, and the rest
// pending.
func (s *Server) handleTodaySchedule(c *fiber.Ctx) error {
	uid := userID(c)
	reminders, err := s.meds.ListReminders(uid, true)
	if err != nil {
		return fail(c, err)
	}
	logs, err := s.meds.GetTodayLogs(uid)
	if err != nil {
		return fail(c, err)
	}

	logged := make(map[string]string)
	for _, l := range logs {
		if l.ReminderID != nil {
			logged[*l.ReminderID+"|"+l.Slot] = l.Status
		}
	}

	open := make(map[string]string)
	if s.engine != nil {
		for _, v := range s.engine.ActiveAlarmsForUser(uid) {
			open[v.ReminderID+"|"+v.Slot] = string(v.State)
		}
	}

	var entries []scheduleEntry
	for _, rem := range reminders {
		for _, slot := range rem.Times {
			status := "pending"
			if st, ok := logged[rem.ID+"|"+slot]; ok {
				status = st
			} else if st, ok := open[rem.ID+"|"+slot]; ok {
				status = st
			}
			entries = append(entries, scheduleEntry{
				ReminderID: rem.ID,
				Name:       rem.Name,
				Dosage:     rem.Dosage,
				Slot:       slot,
				Status:     status,
			})
		}
	}
	return c.JSON(fiber.Map{"date": medication.DayKey(time.Now()), "entries": entries})
}

// ==================== Alarms ====================

type alarmActionRequest struct {
	ReminderID string `json:"reminder_id"`
	Slot       string `json:"slot"`
	Minutes    int    `json:"minutes,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

func (s *Server) handleActiveAlarms(c *fiber.Ctx) error {
	return c.JSON(s.engine.ActiveAlarmsForUser(userID(c)))
}

func (s *Server) handleAcknowledge(c *fiber.Ctx) error {
	req, err := s.ownedAlarmAction(c)
	if err != nil {
		return fail(c, err)
	}
	if err := s.engine.Acknowledge(req.ReminderID, req.Slot); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "acknowledged"})
}

func (s *Server) handleSnooze(c *fiber.Ctx) error {
	req, err := s.ownedAlarmAction(c)
	if err != nil {
		return fail(c, err)
	}
	if err := s.engine.Snooze(req.ReminderID, req.Slot, req.Minutes); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "snoozed"})
}

func (s *Server) handleSkip(c *fiber.Ctx) error {
	req, err := s.ownedAlarmAction(c)
	if err != nil {
		return fail(c, err)
	}
	if err := s.engine.Skip(req.ReminderID, req.Slot, req.Reason); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "skipped"})
}

// ownedAlarmAction decodes an alarm action and confirms the reminder belongs
// to the caller. A deleted reminder's open alarm can still be acted on, so a
// missing reminder is only rejected when it was never the caller's.
func (s *Server) ownedAlarmAction(c *fiber.Ctx) (*alarmActionRequest, error) {
	var req alarmActionRequest
	if err := strictDecode(c, &req); err != nil {
		return nil, apperrors.ErrBadRequest
	}
	if req.ReminderID == "" || !medication.ValidTimeOfDay(req.Slot) {
		return nil, apperrors.ErrBadRequest
	}

	rem, err := s.meds.GetReminder(req.ReminderID)
	if err != nil {
		return nil, err
	}
	if rem != nil && rem.UserID != userID(c) {
		return nil, apperrors.ErrReminderNotFound
	}
	return &req, nil
}

// ==================== Doses ====================

func (s *Server) handleListDoses(c *fiber.Ctx) error {
	date := c.Query("date", medication.DayKey(time.Now()))
	logs, err := s.meds.GetDoseLogs(userID(c), date)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(logs)
}

// ==================== Chat ====================

func (s *Server) handleChat(c *fiber.Ctx) error {
	var req struct {
		ConversationID string `json:"conversation_id"`
		Message        string `json:"message"`
	}
	if err := strictDecode(c, &req); err != nil || req.Message == "" {
		return fail(c, apperrors.ErrBadRequest)
	}

	reply, err := s.assistant.Chat(c.Context(), userID(c), req.ConversationID, req.Message)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(reply)
}

func (s *Server) handleConversationMessages(c *fiber.Ctx) error {
	conv, err := s.store.GetConversation(c.Params("id"))
	if err != nil {
		return fail(c, err)
	}
	if conv == nil || conv.UserID != userID(c) {
		return fail(c, apperrors.ErrNotFound)
	}

	msgs, err := s.store.GetMessages(conv.ID, c.QueryInt("limit", 50), c.QueryInt("offset", 0))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(msgs)
}

// ==================== Devices ====================

func (s *Server) handleBeginPairing(c *fiber.Ctx) error {
	code, err := s.devices.BeginPairing(userID(c))
	if err != nil {
		return fail(c, err)
	}
	return c.Status(201).JSON(fiber.Map{"code": code, "expires_in_seconds": 300})
}

func (s *Server) handleListDevices(c *fiber.Ctx) error {
	devices, err := s.devices.List(userID(c))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(devices)
}

func (s *Server) handleRevokeDevice(c *fiber.Ctx) error {
	if err := s.devices.Revoke(userID(c), c.Params("id")); err != nil {
		return fail(c, err)
	}
	return c.SendStatus(204)
}
