package ot

import "unicode/utf16"

func utf16Encode(s string) []uint16 {
	return utf16.Encode([]rune(s))
}

func utf16Decode(units []uint16) string {
	return string(utf16.Decode(units))
}
