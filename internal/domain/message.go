package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// FormatLevel renders a water level with at most one decimal ("120", "87.5").
func FormatLevel(level float64) string {
	return strconv.FormatFloat(math.Round(level*10)/10, 'f', -1, 64)
}

// AlertText returns the localized title and message for a tier.
func AlertText(deviceID string, status Status, level float64) (title, message string) {
	l := FormatLevel(level)
	switch status {
	case StatusWaspada:
		return "Waspada: Potensi Banjir Terdeteksi",
			fmt.Sprintf("Ketinggian air %scm. Persiapkan barang berharga untuk evakuasi.", l)
	case StatusSiaga2, StatusSiaga1:
		return fmt.Sprintf("%s: Ketinggian Air Mencapai Tingkat Siaga", status),
			fmt.Sprintf("Ketinggian air di device dengan ID: %s mencapai %scm. Mohon pantau area sekitar.", deviceID, l)
	case StatusBahaya:
		return "BAHAYA: BANJIR TERDETEKSI!",
			fmt.Sprintf("DARURAT! Ketinggian air %scm. Segera evakuasi ke tempat yang lebih tinggi!", l)
	}
	return "Peringatan Sensor", fmt.Sprintf("Status sensor: %s (%scm)", status, l)
}

// NewNotification builds an alert record for a tier using the localized templates.
func NewNotification(id, deviceID string, status Status, level float64, at time.Time) Notification {
	title, msg := AlertText(deviceID, status, level)
	return Notification{
		ID:         id,
		DeviceID:   deviceID,
		Severity:   status,
		WaterLevel: level,
		Title:      title,
		Message:    msg,
		CreatedAt:  at,
	}
}

// Jakarta is the display zone for outbound alerts. It falls back to a fixed
// UTC+7 zone when tzdata is unavailable.
var Jakarta = loadJakarta()

func loadJakarta() *time.Location {
	if loc, err := time.LoadLocation("Asia/Jakarta"); err == nil {
		return loc
	}
	return time.FixedZone("WIB", 7*60*60)
}

// AlertMessage renders the plain-text broadcast sent to chat channels.
func AlertMessage(n Notification) string {
	var b strings.Builder
	b.WriteString("[PEMBERITAHUAN]\n")
	fmt.Fprintf(&b, "Device ID: %s\n", n.DeviceID)
	fmt.Fprintf(&b, "Status: %s\n\n", n.Severity)
	b.WriteString(n.Title + "\n\n")
	b.WriteString(n.Message + "\n\n")
	fmt.Fprintf(&b, "Ketinggian Air: %scm\n", FormatLevel(n.WaterLevel))
	fmt.Fprintf(&b, "Waktu: %s", n.CreatedAt.In(Jakarta).Format("02 Jan 2006 15:04:05"))
	return b.String()
}

var indonesianMonths = [...]string{
	"Januari", "Februari", "Maret", "April", "Mei", "Juni",
	"Juli", "Agustus", "September", "Oktober", "November", "Desember",
}

// DateLabel formats t as "11 November 2025" in the Jakarta zone.
func DateLabel(t time.Time) string {
	t = t.In(Jakarta)
	return fmt.Sprintf("%d %s %d", t.Day(), indonesianMonths[t.Month()-1], t.Year())
}
