package libnfc

import "github.com/dotside-studios/davi-nfc-session/nfc"

// Tag families the reader recognizes.
const (
	familyUltralight = "MIFARE Ultralight"
	familyClassic    = "MIFARE Classic"
	familyDESFire    = "DESFire"
	familyType4      = "ISO14443-4"
)

// techList maps a tag family to its base technology list. NDEF is added at
// discovery once the tag's NDEF structure has been found.
func techList(family string) []string {
	switch family {
	case familyUltralight:
		return []string{nfc.TechNfcA, nfc.TechMifareUltralight}
	case familyClassic:
		return []string{nfc.TechNfcA, nfc.TechMifareClassic}
	case familyDESFire, familyType4:
		return []string{nfc.TechNfcA, nfc.TechIsoDep}
	}
	return []string{nfc.TechNfcA}
}
