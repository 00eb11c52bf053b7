package service

import (
	"context"
	"strconv"
	"strings"

	"delta_bot/internal/models"
	"delta_bot/internal/modules/config"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

type document struct {
	LastSignal struct {
		Text  string `json:"text"`
		Price any    `json:"price"`
	} `json:"last_signal"`
	SupplyZone *zone `json:"supply_zone"`
	DemandZone *zone `json:"demand_zone"`
}

type zone struct {
	Min any `json:"min"`
	Max any `json:"max"`
}

// ParseSignal разбирает документ сигнала. Цена и границы зон бывают числом или строкой.
func ParseSignal(data []byte) (models.Signal, error) {
	var doc document
	if err := sonic.Unmarshal(data, &doc); err != nil {
		return models.Signal{}, errors.Wrap(models.ErrData, err.Error())
	}

	sig := models.Signal{Text: doc.LastSignal.Text}
	if p, ok := number(doc.LastSignal.Price); ok && p > 0 {
		sig.Price = p
	}
	sig.Supply = toZone(doc.SupplyZone)
	sig.Demand = toZone(doc.DemandZone)
	return sig, nil
}

// зона считается заданной, если есть min
func toZone(z *zone) models.Zone {
	if z == nil {
		return models.Zone{}
	}
	lo, ok := number(z.Min)
	if !ok {
		return models.Zone{}
	}
	hi, _ := number(z.Max)
	return models.Zone{Min: lo, Max: hi, Set: true}
}

func number(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int64:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// Source читает документ сигнала из Redis по ключу.
type Source struct {
	rdb getter
	key string
}

func NewClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

func NewSource(rdb getter, key string) *Source {
	if key == "" {
		key = "signal"
	}
	return &Source{rdb: rdb, key: key}
}

// Fetch: ok=false — ключа нет или он пустой.
func (s *Source) Fetch(ctx context.Context) (models.Signal, bool, error) {
	data, err := s.rdb.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.Signal{}, false, nil
	}
	if err != nil {
		return models.Signal{}, false, errors.Wrap(models.WithKind(err, models.ErrTransient), "redis get "+s.key)
	}
	if len(data) == 0 {
		return models.Signal{}, false, nil
	}

	sig, err := ParseSignal(data)
	if err != nil {
		return models.Signal{}, false, err
	}
	return sig, true, nil
}
