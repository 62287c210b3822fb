package utils

import (
	"crypto/rand"
	"math/big"

	"github.com/google/uuid"
)

const (
	numberBytes = "0123456789"
	// Pickup codes are read aloud, so look-alike characters are left out.
	pickupCodeBytes = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
)

// GenerateOTP returns the numeric code the rider reads to the driver at pickup.
func GenerateOTP(length int) string {
	if length <= 0 {
		length = DefaultOTPLength
	}
	return generateRandom(length, numberBytes)
}

// GeneratePickupCode returns the short human-readable ride reference.
func GeneratePickupCode(length int) string {
	if length <= 0 {
		length = DefaultPickupCodeLength
	}
	return generateRandom(length, pickupCodeBytes)
}

func GenerateRequestID() string {
	return uuid.NewString()
}

func generateRandom(length int, charset string) string {
	result := make([]byte, length)
	charsetLength := big.NewInt(int64(len(charset)))

	for i := range result {
		num, err := rand.Int(rand.Reader, charsetLength)
		if err != nil {
			panic(err)
		}
		result[i] = charset[num.Int64()]
	}

	return string(result)
}
