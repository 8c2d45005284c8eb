package domain

import (
	"fmt"
	"sort"
)

// modBits — битовые значения модов в формате enabled_mods osu!.
// Значения зафиксированы навсегда: по ним уже лежат данные в scores.
var modBits = map[string]int{
	"":    0,
	"NF":  1,
	"EZ":  2,
	"TD":  4,
	"HD":  8,
	"HR":  16,
	"SD":  32,
	"DT":  64,
	"RX":  128,
	"HT":  256,
	"NC":  512,
	"FL":  1024,
	"AT":  2048,
	"SO":  4096,
	"AP":  8192,
	"PF":  16384,
	"4K":  32768,
	"5K":  65536,
	"6K":  131072,
	"7K":  262144,
	"8K":  524288,
	"FI":  1048576,
	"RD":  2097152,
	"LM":  4194304,
	"9K":  16777216,
	"10K": 33554432,
	"1K":  67108864,
	"3K":  134217728,
	"2K":  268435456,
	"V2":  536870912,
}

// EncodeMods сводит набор кодов модов к битовой маске.
// NC подразумевает DT, PF подразумевает SD — импликации добавляются
// в рабочее множество до суммирования, дубликаты не учитываются дважды.
func EncodeMods(mods []string) (int, error) {
	set := make(map[string]struct{}, len(mods)+2)
	for _, mod := range mods {
		if mod == "" {
			continue
		}
		if _, ok := modBits[mod]; !ok {
			return 0, fmt.Errorf("%w: %q", ErrUnknownMod, mod)
		}
		set[mod] = struct{}{}
	}
	if _, ok := set["NC"]; ok {
		set["DT"] = struct{}{}
	}
	if _, ok := set["PF"]; ok {
		set["SD"] = struct{}{}
	}
	mask := 0
	for mod := range set {
		mask += modBits[mod]
	}
	return mask, nil
}

// DecodeMods возвращает набор кодов, биты которых установлены в маске.
// Повторное кодирование результата даёт исходную маску.
func DecodeMods(mask int) []string {
	var mods []string
	for mod, bit := range modBits {
		if bit != 0 && mask&bit == bit {
			mods = append(mods, mod)
		}
	}
	sort.Slice(mods, func(i, j int) bool { return modBits[mods[i]] < modBits[mods[j]] })
	return mods
}

// HasMod проверяет наличие кода в списке модов результата.
func HasMod(mods []string, code string) bool {
	for _, mod := range mods {
		if mod == code {
			return true
		}
	}
	return false
}
