package utils

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"math/big"

	"github.com/skip2/go-qrcode"
)

const sessionAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// SessionTokenLength gives 22 base62 characters, a little over 130 bits.
const SessionTokenLength = 22

// GenerateSessionToken returns an unguessable alphanumeric table session token.
func GenerateSessionToken() (string, error) {
	max := big.NewInt(int64(len(sessionAlphabet)))
	buf := make([]byte, SessionTokenLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = sessionAlphabet[n.Int64()]
	}
	return string(buf), nil
}

// TableURL is the address encoded in a table's QR code.
func TableURL(baseURL string, restaurantID, tableID uint) string {
	return fmt.Sprintf("%s/table/%d/%d", baseURL, restaurantID, tableID)
}

// GenerateTableQR renders the table URL as a PNG QR code.
func GenerateTableQR(url string) ([]byte, error) {
	return qrcode.Encode(url, qrcode.Medium, 256)
}

// GenerateTableQRDataURI is the serialized form stored on Table.QRCode.
func GenerateTableQRDataURI(url string) (string, error) {
	png, err := GenerateTableQR(url)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
