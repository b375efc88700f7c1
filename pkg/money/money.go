// Package money содержит правила округления денежных сумм в USD.
// Суммы хранятся как float64 и округляются до двух знаков в каждой точке,
// где значение становится фактом в леджере.
package money

import (
	"math"
)

// Round2 округляет сумму до 2 знаков после запятой (половина — от нуля)
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// RoundCrypto округляет сумму в криптовалюте до 8 знаков после запятой
func RoundCrypto(v float64) float64 {
	return math.Round(v*1e8) / 1e8
}

// SufficientUSD проверяет достаточность полученной суммы с учетом допуска.
// Порог округляется до цента: допуск в 2% от $500 дает ровно $490.00,
// и $490.00 должно проходить проверку несмотря на неточность float64.
func SufficientUSD(received, expected, tolerancePct float64) bool {
	threshold := Round2(expected * (1 - tolerancePct/100))
	return received >= threshold
}
