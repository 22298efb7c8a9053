// Copyright Amazon.com, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package pattern

import (
	"math/big"
	"strconv"
	"strings"
	"unicode"
)

// checks are the catalog "validate" hooks. A match failing its hook is dropped.
var checks = map[string]func(string) bool{
	"luhn": luhnValid,
	"iban": ibanValid,
	"ssn":  ssnValid,
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// luhnValid checks card numbers of 13 to 19 digits
func luhnValid(match string) bool {
	number := digitsOnly(match)
	if len(number) < 13 || len(number) > 19 {
		return false
	}
	if strings.Count(number, string(number[0])) == len(number) {
		return false
	}

	sum := 0
	isDouble := false
	for i := len(number) - 1; i >= 0; i-- {
		digit := int(number[i] - '0')
		if isDouble {
			digit *= 2
			if digit > 9 {
				digit -= 9
			}
		}
		sum += digit
		isDouble = !isDouble
	}
	return sum%10 == 0
}

// ssnValid rejects area 000, 666 and 900-999, group 00 and serial 0000
func ssnValid(match string) bool {
	ssn := digitsOnly(match)
	if len(ssn) != 9 {
		return false
	}
	area, _ := strconv.Atoi(ssn[0:3])
	if area == 0 || area == 666 || area >= 900 {
		return false
	}
	if ssn[3:5] == "00" || ssn[5:] == "0000" {
		return false
	}
	return true
}

// ibanValid applies the ISO 13616 mod-97 check
func ibanValid(match string) bool {
	var compact strings.Builder
	for _, r := range match {
		if !unicode.IsSpace(r) {
			compact.WriteRune(unicode.ToUpper(r))
		}
	}
	iban := compact.String()
	if len(iban) < 15 || len(iban) > 34 {
		return false
	}

	rearranged := iban[4:] + iban[:4]
	var numeric strings.Builder
	for _, r := range rearranged {
		switch {
		case r >= '0' && r <= '9':
			numeric.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			numeric.WriteString(strconv.Itoa(int(r-'A') + 10))
		default:
			return false
		}
	}

	n, ok := new(big.Int).SetString(numeric.String(), 10)
	if !ok {
		return false
	}
	return new(big.Int).Mod(n, big.NewInt(97)).Int64() == 1
}
