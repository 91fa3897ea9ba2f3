package ordering

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"prepbrain/internal/database"
	"prepbrain/internal/models"
)

// EmailDraft is a ready-to-send vendor order email. Sending is manual; the
// system only drafts.
type EmailDraft struct {
	VendorID       uint                      `json:"vendor_id"`
	VendorName     string                    `json:"vendor_name"`
	VendorEmail    string                    `json:"vendor_email"`
	CutoffTime     string                    `json:"cutoff_time"`
	OrderingMethod string                    `json:"ordering_method"`
	Subject        string                    `json:"subject"`
	Body           string                    `json:"body"`
	Items          []models.PendingOrderLine `json:"items"`
}

func quantityDisplay(v float64) string {
	if v == float64(int64(v)) {
		return strconv.FormatInt(int64(v), 10)
	}
	s := strconv.FormatFloat(v, 'f', 3, 64)
	s = strings.TrimRight(s, "0")
	return strings.TrimRight(s, ".")
}

// BuildEmailDraft assembles the pending lines for one vendor into an order
// request email.
func (r *Router) BuildEmailDraft(vendorID uint) (*EmailDraft, error) {
	vendor, err := r.vendorByID(vendorID)
	if err != nil {
		return nil, err
	}
	if vendor == nil {
		return nil, fmt.Errorf("vendor %d not found", vendorID)
	}

	var items []models.PendingOrderLine
	err = r.db.Where("vendor_id = ? and status = ?", vendorID, models.OrderLineStatusPending).
		Order("created_at asc, id asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("no pending items for vendor %q", vendor.Name)
	}

	greeting := strings.TrimSpace(vendor.ContactName)
	if greeting == "" {
		greeting = vendor.Name
	}
	lines := []string{
		fmt.Sprintf("Hello %s,", greeting),
		"",
		"Please prepare the following order:",
		"",
	}
	for _, item := range items {
		display := strings.TrimSpace(item.DisplayOriginal)
		if display == "" {
			display = quantityDisplay(item.Quantity) + " " + item.Unit
		}
		lines = append(lines, fmt.Sprintf("- %s %s", display, item.ItemName))
	}
	lines = append(lines,
		"",
		"Please confirm availability and ETA.",
		"",
		"Thank you,",
		"Kitchen",
	)

	return &EmailDraft{
		VendorID:       vendor.ID,
		VendorName:     vendor.Name,
		VendorEmail:    vendor.Email,
		CutoffTime:     vendor.CutoffTime,
		OrderingMethod: vendor.OrderingMethod,
		Subject:        fmt.Sprintf("Order Request - %s - %s", vendor.Name, time.Now().Format("2006-01-02")),
		Body:           strings.Join(lines, "\n"),
		Items:          items,
	}, nil
}

// CutoffReminder is one due reminder for a vendor order cutoff.
type CutoffReminder struct {
	VendorID      uint   `json:"vendor_id"`
	VendorName    string `json:"vendor_name"`
	OffsetMinutes int    `json:"offset_minutes"`
	PendingCount  int    `json:"pending_count"`
	CutoffTime    string `json:"cutoff_time"`
	ReminderDate  string `json:"reminder_date"`
}

// QuietHours suppresses reminders inside a daily window. A window crossing
// midnight is allowed.
type QuietHours struct {
	Start string
	End   string
}

var clockFormats = []string{"15:04", "15:04:05", "3:04pm", "3:04 pm", "3pm"}

func parseClock(value string) (time.Time, bool) {
	raw := strings.ToLower(strings.Join(strings.Fields(value), " "))
	if raw == "" {
		return time.Time{}, false
	}
	for _, candidate := range []string{raw, strings.ReplaceAll(raw, ".", ":")} {
		for _, format := range clockFormats {
			if t, err := time.Parse(format, candidate); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

func minutesOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

func inQuietHours(now time.Time, quiet *QuietHours) bool {
	if quiet == nil {
		return false
	}
	start, okStart := parseClock(quiet.Start)
	end, okEnd := parseClock(quiet.End)
	if !okStart || !okEnd {
		return false
	}
	n := minutesOfDay(now)
	s := minutesOfDay(start)
	e := minutesOfDay(end)
	if s <= e {
		return n >= s && n < e
	}
	return n >= s || n < e
}

// DueCutoffReminders returns reminders whose offset window covers now, for
// vendors with pending lines, skipping already-sent (vendor, date, offset)
// combinations.
func (r *Router) DueCutoffReminders(offsetsMinutes []int, quiet *QuietHours, now time.Time) ([]CutoffReminder, error) {
	if inQuietHours(now, quiet) {
		return nil, nil
	}
	seen := map[int]bool{}
	var offsets []int
	for _, o := range offsetsMinutes {
		if o >= 0 && !seen[o] {
			seen[o] = true
			offsets = append(offsets, o)
		}
	}
	if len(offsets) == 0 {
		return nil, nil
	}
	// Largest offset first so the earliest reminder wins a tie.
	sort.Sort(sort.Reverse(sort.IntSlice(offsets)))

	var vendors []models.Vendor
	err := r.db.Where("cutoff_time is not null and trim(cutoff_time) != ''").
		Order("name asc").
		Find(&vendors).Error
	if err != nil {
		return nil, err
	}

	reminderDate := now.Format("2006-01-02")
	var due []CutoffReminder
	for _, vendor := range vendors {
		cutoff, ok := parseClock(vendor.CutoffTime)
		if !ok {
			continue
		}

		var pendingCount int
		err := r.db.Model(&models.PendingOrderLine{}).
			Where("vendor_id = ? and status = ?", vendor.ID, models.OrderLineStatusPending).
			Count(&pendingCount).Error
		if err != nil {
			return nil, err
		}
		if pendingCount <= 0 {
			continue
		}

		cutoffAt := time.Date(now.Year(), now.Month(), now.Day(), cutoff.Hour(), cutoff.Minute(), 0, 0, now.Location())
		for _, offset := range offsets {
			remindAt := cutoffAt.Add(-time.Duration(offset) * time.Minute)
			if now.Before(remindAt) || !now.Before(remindAt.Add(5*time.Minute)) {
				continue
			}

			var sentCount int
			err := r.db.Model(&models.VendorCutoffReminder{}).
				Where("vendor_id = ? and reminder_date = ? and offset_minutes = ?", vendor.ID, reminderDate, offset).
				Count(&sentCount).Error
			if err != nil {
				return nil, err
			}
			if sentCount > 0 {
				continue
			}

			due = append(due, CutoffReminder{
				VendorID:      vendor.ID,
				VendorName:    vendor.Name,
				OffsetMinutes: offset,
				PendingCount:  pendingCount,
				CutoffTime:    vendor.CutoffTime,
				ReminderDate:  reminderDate,
			})
		}
	}
	return due, nil
}

// MarkReminderSent records a delivered reminder.
func (r *Router) MarkReminderSent(vendorID uint, reminderDate string, offsetMinutes int) error {
	return database.WithRetry(func() error {
		var count int
		err := r.db.Model(&models.VendorCutoffReminder{}).
			Where("vendor_id = ? and reminder_date = ? and offset_minutes = ?", vendorID, reminderDate, offsetMinutes).
			Count(&count).Error
		if err != nil || count > 0 {
			return err
		}
		return r.db.Create(&models.VendorCutoffReminder{
			VendorID:      vendorID,
			ReminderDate:  reminderDate,
			OffsetMinutes: offsetMinutes,
			SentAt:        time.Now(),
		}).Error
	})
}
