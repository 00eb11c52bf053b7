package models

// Zone — зона спроса/предложения. Set=false, если в документе сигнала её нет.
type Zone struct {
	Min float64
	Max float64
	Set bool
}

// Signal — снимок документа сигнала. Новизна определяется только по Text.
type Signal struct {
	Text   string
	Price  float64 // 0 — цены в сигнале нет
	Supply Zone
	Demand Zone
}

func (s Signal) HasZones() bool { return s.Supply.Set && s.Demand.Set }

// SameAs сравнивает только текст: цена и зоны в ключ дедупликации не входят.
func (s Signal) SameAs(prev *Signal) bool {
	return prev != nil && prev.Text == s.Text
}
