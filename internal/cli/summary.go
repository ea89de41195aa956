package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/Veraticus/milo/internal/bot"
	"github.com/Veraticus/milo/internal/model"
)

const timeLayout = "2006-01-02 15:04"

// RenderSummary formats a checkpoint summary for the terminal.
func RenderSummary(s model.Summary) string {
	cp := s.Checkpoint

	var b strings.Builder
	state := SuccessStyle.Render("open")
	if !cp.IsOpen() {
		state = SubtleStyle.Render("closed " + cp.ClosedAt.Local().Format(timeLayout))
	}
	fmt.Fprintf(&b, "%s %s\n", BoldStyle.Render(fmt.Sprintf("Checkpoint #%d", cp.ID)), state)
	fmt.Fprintf(&b, "%s\n\n", SubtleStyle.Render(fmt.Sprintf("channel %s, started %s", cp.ChannelID, cp.CreatedAt.Local().Format(timeLayout))))

	if s.Empty() {
		b.WriteString(SubtleStyle.Render("No receipts recorded."))
		return RenderBox(FormatTitle("Summary"), b.String())
	}

	b.WriteString(BoldStyle.Render("Who spent what") + "\n")
	b.WriteString(userTable(s.Users))
	b.WriteString("\n" + BoldStyle.Render("Receipts") + "\n")
	b.WriteString(ReceiptTable(s.Receipts))
	fmt.Fprintf(&b, "\n%s %s", BoldStyle.Render("Total:"), bot.FormatAmount(s.GrandTotal))

	return RenderBox(FormatTitle("Summary"), b.String())
}

// ReceiptTable lists receipts with their 1-based positions.
func ReceiptTable(receipts []model.Receipt) string {
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tWHO\tAMOUNT\tSOURCE\tWHEN")
	for i, r := range receipts {
		source := "image"
		if r.FromText() {
			source = r.Description
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
			i+1, displayName(r.UserName, r.UserID), bot.FormatAmount(r.Amount), source, r.CreatedAt.Local().Format(timeLayout))
	}
	_ = w.Flush()
	return b.String()
}

func userTable(users []model.UserTotal) string {
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	for _, u := range users {
		fmt.Fprintf(w, "%s\t%s\t%d receipt(s)\n", displayName(u.UserName, u.UserID), bot.FormatAmount(u.Total), u.Count)
	}
	_ = w.Flush()
	return b.String()
}

func displayName(name, id string) string {
	if name != "" {
		return name
	}
	return id
}
