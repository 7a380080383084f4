//
// Copyright (c) 2021, 2026 Aquila Data, Inc. All rights reserved.
//
// Licensed under the Universal Permissive License v 1.0 as shown at
//  https://opensource.org/licenses/UPL
//

package entra

import (
	"crypto/sha1"
	"encoding/base64"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/aquiladata/aquila-go-sdk/aquiladb/aquilaerr"
)

// assertionLifetime is how long a generated client assertion stays valid.
// Assertions are single-use per token request, the lifetime only needs to
// cover clock skew plus the request round trip.
const assertionLifetime = 10 * time.Minute

// clientAssertion builds a signed JWT proving possession of the certificate
// private key, for the jwt-bearer client assertion grant.
func (m *CredentialManager) clientAssertion() (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"aud": m.authority + tokenEndpoint,
		"iss": m.cred.clientID,
		"sub": m.cred.clientID,
		"jti": uuid.NewString(),
		"nbf": now.Unix(),
		"exp": now.Add(assertionLifetime).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	// The token service matches the assertion to the registered certificate
	// by its SHA-1 thumbprint.
	thumbprint := sha1.Sum(m.cred.cert.Raw)
	token.Header["x5t"] = base64.StdEncoding.EncodeToString(thumbprint[:])

	signed, err := token.SignedString(m.cred.key)
	if err != nil {
		return "", aquilaerr.NewAuthWithCause(err, "cannot sign client assertion")
	}

	return signed, nil
}
