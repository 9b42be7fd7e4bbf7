package pattern

const priceHistoryCap = 10000

type priceSample struct {
	timestamp float64
	price     float64
}

// priceHistory is a per-coin cap-10000 deque used for pump/dump detection
// (§4.8). It starts empty and is filled only from live readings; it is not
// backfilled from the JSONL store at startup.
type priceHistory struct {
	samples []priceSample
}

func (h *priceHistory) add(ts, price float64) {
	h.samples = append(h.samples, priceSample{timestamp: ts, price: price})
	if len(h.samples) > priceHistoryCap {
		h.samples = h.samples[len(h.samples)-priceHistoryCap:]
	}
}

// atOrBefore returns the most recent sample with timestamp <= target.
func (h *priceHistory) atOrBefore(target float64) (float64, bool) {
	var (
		found bool
		price float64
	)
	for _, s := range h.samples {
		if s.timestamp <= target {
			price = s.price
			found = true
		} else if found {
			break
		}
	}
	return price, found
}
