package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/metaversebroly/radar-screener/internal/alerting"
	"github.com/metaversebroly/radar-screener/internal/detector"
)

// SimulateAlert 用给定的当前价与参考价走一遍完整的告警链路。
// 不依赖数据库：参考窗口由合成样本构造。
func (a *App) SimulateAlert(ctx context.Context, price, reference decimal.Decimal) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("未配置任何告警通道")
	}

	det := detector.New(detector.Options{
		Window:     a.Config.Detector.Window(),
		MinSamples: a.Config.Detector.MinSamples,
	}, a.Logger)

	now := time.Now().UTC()
	history := make([]detector.Sample, 0, a.Config.Detector.MinSamples)
	for i := 0; i < a.Config.Detector.MinSamples; i++ {
		history = append(history, detector.Sample{
			Price:      reference,
			ObservedAt: now.Add(-time.Duration(i+1) * time.Hour),
		})
	}

	threshold := a.defaultThreshold()
	decision := det.Evaluate(price, threshold, history, now)
	if !decision.IsDip {
		return fmt.Errorf("模拟价格未达到阈值: discount %s%% < %s%%",
			decision.DiscountPct.StringFixed(2), threshold.StringFixed(0))
	}

	return notifier.Notify(ctx, alerting.Notification{
		ProductName:  "Simulated Product",
		Slug:         "simulated-product",
		AlertPrice:   price,
		MedianPrice:  decision.Reference,
		DiscountPct:  decision.DiscountPct,
		ThresholdPct: threshold,
		TriggeredAt:  now,
	})
}
