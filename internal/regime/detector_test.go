package regime

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func observeSeries(c *Classifier, prices []float64) {
	for _, p := range prices {
		c.Observe(decimal.NewFromFloat(p))
	}
}

func TestClassify_FewerThanTwoReturnsIsNeutral(t *testing.T) {
	c := New(nil, DefaultConfig())
	c.Observe(decimal.NewFromFloat(100))

	result := c.Classify()
	assert.Equal(t, TrendRanging, result.Trend)
	assert.Equal(t, VolNormal, result.Volatility)
	assert.Equal(t, 1.0, result.SizeMultiplier)
}

func TestClassify_SteadyUptrendIsLowVolUp(t *testing.T) {
	c := New(nil, DefaultConfig())
	prices := make([]float64, 0, 21)
	for i := 0; i < 21; i++ {
		prices = append(prices, 100+float64(i)*0.5)
	}
	observeSeries(c, prices)

	result := c.Classify()
	assert.Equal(t, TrendUp, result.Trend)
	assert.Equal(t, VolLow, result.Volatility)
	assert.Equal(t, 1.3, result.SizeMultiplier)
}

func TestClassify_SteadyDowntrendIsDown(t *testing.T) {
	c := New(nil, DefaultConfig())
	prices := make([]float64, 0, 21)
	for i := 0; i < 21; i++ {
		prices = append(prices, 100-float64(i)*0.5)
	}
	observeSeries(c, prices)

	result := c.Classify()
	assert.Equal(t, TrendDown, result.Trend)
}

func TestClassify_WhipsawIsHighVolRanging(t *testing.T) {
	c := New(nil, DefaultConfig())
	prices := make([]float64, 0, 21)
	price := 100.0
	for i := 0; i < 21; i++ {
		if i%2 == 0 {
			price = 100 + 15
		} else {
			price = 100 - 15
		}
		prices = append(prices, price)
	}
	observeSeries(c, prices)

	result := c.Classify()
	assert.Equal(t, VolHigh, result.Volatility)
	assert.Equal(t, 0.5, result.SizeMultiplier)
}

func TestClassify_WindowTrimsToConfiguredSize(t *testing.T) {
	c := New(nil, Config{Window: 5, TrendThreshold: 0.3, HighVolThreshold: 0.6, LowVolThreshold: 0.15})
	observeSeries(c, []float64{100, 101, 102, 103, 104, 105, 106})

	// Should not panic and should still classify using the trimmed window.
	result := c.Classify()
	assert.NotEmpty(t, result.Trend)
}
