package dedup

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimhashStable(t *testing.T) {
	title := "Прорыв трубы теплотрассы в Екатеринбурге"
	text := "Жители нескольких домов остались без отопления после прорыва трубы."

	assert.Equal(t, Simhash(title, text), Simhash(title, text))
}

func TestSimhashNearDuplicate(t *testing.T) {
	title := "Прорыв трубы теплотрассы в Екатеринбурге, дома без отопления"
	text := "Коммунальные службы работают на месте прорыва магистральной теплотрассы. " +
		"Без отопления остались жители нескольких многоквартирных домов в центре города. " +
		"Ремонтные бригады обещают восстановить подачу тепла в течение суток."

	// One changed word in a long text stays within a small distance.
	changed := strings.Replace(text, "суток", "недели", 1)
	d := HammingDistance(Simhash(title, text), Simhash(title, changed))
	assert.LessOrEqual(t, d, 8)

	unrelated := Simhash(
		"Городская дума утвердила бюджет на следующий год",
		"Депутаты рассмотрели поправки к проекту бюджета и утвердили его во втором чтении.")
	assert.Greater(t, HammingDistance(Simhash(title, text), unrelated), 3)
}

func TestHammingDistance(t *testing.T) {
	assert.Equal(t, 0, HammingDistance(0xdeadbeef, 0xdeadbeef))
	assert.Equal(t, 64, HammingDistance(0, ^uint64(0)))
	assert.Equal(t, HammingDistance(12345, 54321), HammingDistance(54321, 12345))
	assert.Equal(t, 1, HammingDistance(0b1000, 0b0000))
}

func TestCache(t *testing.T) {
	a := Simhash("Авария на водопроводе в Казани", "Без воды остались жители трех улиц.")
	cache := NewCache([]Entry{{NewsID: 7, Simhash: a}}, 3)

	id, ok := cache.FindNear(a)
	require.True(t, ok)
	assert.Equal(t, int64(7), id)

	b := Simhash("Открытие нового парка в Москве", "Горожане смогут гулять по новым аллеям.")
	_, ok = cache.FindNear(b)
	assert.False(t, ok)

	cache.Add(8, b)
	id, ok = cache.FindNear(b)
	require.True(t, ok)
	assert.Equal(t, int64(8), id)
	assert.Equal(t, 2, cache.Len())
}
