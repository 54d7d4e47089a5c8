package sim

import "hash/fnv"

// priceWalk is a bounded random-walk price process for one symbol. Steps are
// multiplicative with volatility vol, clamped to [floor, ceil]. A pinned walk
// always reports its fixed price and consumes no randomness.
type priceWalk struct {
	price  float64
	vol    float64
	floor  float64
	ceil   float64
	pinned bool
}

// seedPrice derives a deterministic starting price in [20, 520) from the
// symbol name, so that a fixed RNG seed and a fixed order sequence reproduce
// identical price paths regardless of map iteration order.
func seedPrice(symbol string) float64 {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	return 20 + float64(h.Sum32()%50000)/100
}

func newPriceWalk(symbol string, vol float64) *priceWalk {
	p := seedPrice(symbol)
	return &priceWalk{
		price: p,
		vol:   vol,
		floor: p * 0.2,
		ceil:  p * 5,
	}
}

// step advances the walk by one draw and returns the new price.
func (w *priceWalk) step(normDraw float64) float64 {
	if w.pinned {
		return w.price
	}
	w.price *= 1 + w.vol*normDraw
	if w.price < w.floor {
		w.price = w.floor
	}
	if w.price > w.ceil {
		w.price = w.ceil
	}
	return w.price
}

// pin fixes the walk at price. Used to run scenarios against known prices.
func (w *priceWalk) pin(price float64) {
	w.price = price
	w.pinned = true
}
