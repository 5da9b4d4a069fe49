package currency

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var idPrinter = message.NewPrinter(language.Indonesian)

// FormatRupiah renders an amount for display, e.g. "Rp25.000".
func FormatRupiah(amount Rupiah) string {
	return idPrinter.Sprintf("Rp%d", int64(amount))
}

// FormatNovoin renders a coin amount for display, e.g. "1.250 Novoin".
func FormatNovoin(amount Novoin) string {
	return idPrinter.Sprintf("%d Novoin", int64(amount))
}
