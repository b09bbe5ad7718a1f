package server

import (
	"context"
	"math"
	"strconv"
	"time"

	"github.com/erain9/bazaarbook/pkg/core"
	"github.com/erain9/bazaarbook/pkg/logging"
	"github.com/erain9/bazaarbook/pkg/messaging"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Minecraft chat colour codes
const (
	colorGray  = "§7"
	colorGreen = "§a"
	colorRed   = "§c"
	colorAqua  = "§b"
)

const (
	referenceLength = 32
	unknownItemName = "item"

	// ticks (100ns) between 0001-01-01 and the Unix epoch
	unixEpochTicks = 621355968000000000

	pathAdd   = "add"
	pathDelta = "delta"
)

var printer = message.NewPrinter(language.English)

// displacementTerms returns the wording for a displacement on one side. Sell
// orders are undercut by cheaper offers, buy orders outbid by higher bids.
func displacementTerms(isSell bool) (kind, action, prefix string) {
	if isSell {
		return "sell", messaging.SourceSubIDUndercut, "-"
	}
	return "buy", messaging.SourceSubIDOutbid, "+"
}

func formatAmount(n int64) string {
	return printer.Sprintf("%d", n)
}

func formatPrice(p float64) string {
	return printer.Sprintf("%.1f", core.RoundPrice(p))
}

// dotnetTicks converts t to 100ns ticks since 0001-01-01 UTC
func dotnetTicks(t time.Time) int64 {
	return t.Unix()*10_000_000 + int64(t.Nanosecond()/100) + unixEpochTicks
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// notificationReference is the dedup key downstream delivery collapses on
func notificationReference(o *core.Order) string {
	ref := formatAmount(o.Amount) + o.ItemID + formatPrice(o.PricePerUnit) + strconv.FormatInt(dotnetTicks(o.Timestamp), 10)
	return truncateRunes(ref, referenceLength)
}

// buildNotification renders the message telling the owner of displaced that
// newOrder took the best price from it. path selects the add or delta wording.
func buildNotification(newOrder, displaced *core.Order, itemName, path string) *messaging.Notification {
	if itemName == "" {
		itemName = unknownItemName
	}
	kind, action, prefix := displacementTerms(displaced.IsSell)
	diff := formatPrice(math.Abs(displaced.PricePerUnit - newOrder.PricePerUnit))

	msg := colorGray + "Your " + colorGreen + kind + colorGray + "-order for " +
		colorAqua + formatAmount(displaced.Amount) + "x " + itemName + colorGray +
		" has been " + colorRed + action + colorGray +
		" by an order of " + colorAqua + formatAmount(newOrder.Amount) + "x" + colorGray +
		" at " + colorGreen + formatPrice(newOrder.PricePerUnit) + colorGray + " per unit "

	summary := "You were " + action
	if path == pathDelta {
		summary = "Your order was " + action
		msg += "(" + colorRed + prefix + diff + colorGray + ")."
	} else {
		msg += "(" + prefix + diff + ")."
		if newOrder.UserID != nil && newOrder.User() == displaced.User() {
			msg += " You undercut your own order!"
		}
	}

	return &messaging.Notification{
		UserID:      displaced.User(),
		Summary:     summary,
		Message:     msg,
		Reference:   notificationReference(displaced),
		SourceType:  messaging.SourceTypeBazaar,
		SourceSubID: action,
	}
}

// notify sends one displacement notification. Failures are logged only.
func (s *OrderBookService) notify(ctx context.Context, newOrder, displaced *core.Order, path string) {
	logger := logging.FromContext(ctx)
	name := ""
	if s.namer != nil {
		name = s.namer.ItemName(ctx, displaced.ItemID)
	}
	n := buildNotification(newOrder, displaced, name, path)

	if err := s.sender.SendNotification(ctx, n); err != nil {
		logger.Error().
			Err(err).
			Str("user_id", n.UserID).
			Str("item", displaced.ItemID).
			Msg("Failed to send notification")
		return
	}
	s.metrics.NotificationSent(ctx, n.SourceSubID, path)
	logger.Info().
		Str("user_id", n.UserID).
		Str("by", newOrder.User()).
		Str("item", displaced.ItemID).
		Int64("amount", newOrder.Amount).
		Float64("price", newOrder.PricePerUnit).
		Msgf("User was %s", n.SourceSubID)
}
