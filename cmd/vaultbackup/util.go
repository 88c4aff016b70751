package main

import "dedupvault/internal/hasher"

func parseDigestOrZero(hex string) (hasher.Digest, error) {
	return hasher.ParseDigest(hex)
}
