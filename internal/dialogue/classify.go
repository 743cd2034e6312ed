package dialogue

import (
	"regexp"
	"strings"
)

// Kind is what a chat message asks the bot to do.
type Kind string

const (
	KindGreet          Kind = "greet"
	KindCheckout       Kind = "checkout"
	KindTrackOrder     Kind = "track_order"
	KindApplyCoupon    Kind = "apply_coupon"
	KindRemoveFromCart Kind = "remove_from_cart"
	KindShowCart       Kind = "show_cart"
	KindAddToCart      Kind = "add_to_cart"
	KindCheckStock     Kind = "check_stock"
	KindSearch         Kind = "search"
)

var (
	orderIDPattern = regexp.MustCompile(`\bORD\d{3,}\b`)
	addWords       = regexp.MustCompile(`\b(add|put)\b`)
	removeWords    = regexp.MustCompile(`\b(remove|delete)\b`)
	trackWords     = regexp.MustCompile(`\b(track|tracking|where is my order|order status)\b`)
	stockWords     = regexp.MustCompile(`\b(stock|available|availability)\b`)

	greetings = map[string]bool{
		"hi": true, "hii": true, "hello": true, "hey": true, "hola": true, "namaste": true,
		"good morning": true, "good afternoon": true, "good evening": true,
	}
	checkoutPhrases = []string{"checkout", "check out", "place order", "place my order"}
	couponPhrases   = []string{"coupon", "apply code", "promo"}
)

// Classify routes a message to a Kind by keywords. Checks run in a fixed
// order; anything unrecognized is a search.
func Classify(text string) Kind {
	t := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	t = strings.TrimRight(t, "!.? ")

	switch {
	case greetings[t]:
		return KindGreet
	case containsAny(t, checkoutPhrases):
		return KindCheckout
	case trackWords.MatchString(t) || orderIDPattern.MatchString(strings.ToUpper(t)):
		return KindTrackOrder
	case containsAny(t, couponPhrases):
		return KindApplyCoupon
	case removeWords.MatchString(t):
		return KindRemoveFromCart
	case strings.Contains(t, "cart") && !addWords.MatchString(t):
		return KindShowCart
	case addWords.MatchString(t):
		return KindAddToCart
	case stockWords.MatchString(t):
		return KindCheckStock
	}
	return KindSearch
}

// ExtractOrderID finds an order ID in text: first an ORD<digits> token,
// then any of the known IDs mentioned case-insensitively.
func ExtractOrderID(text string, known []string) string {
	if id := orderIDPattern.FindString(strings.ToUpper(text)); id != "" {
		return id
	}
	lower := strings.ToLower(text)
	for _, id := range known {
		if id != "" && strings.Contains(lower, strings.ToLower(id)) {
			return strings.ToUpper(id)
		}
	}
	return ""
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
