// Package dnsupdate builds, signs and delivers RFC 2136 Dynamic DNS updates
// authenticated with SIG(0) transaction signatures (RFC 2931).
//
// An update replaces the address records of a single host: for every address
// the message carries a delete-RRset instruction for the matching record type
// (A or AAAA) followed by an add instruction for the new value. Replaying the
// same update yields the same RRset on the server, and record types that are
// not part of the update are left untouched.
//
// # Usage
//
//	id, err := dnsupdate.LoadSigningIdentity("example.com.", pemBytes)
//	if err != nil {
//	    return err
//	}
//
//	msg, err := dnsupdate.NewUpdate("example.com.", "host.example.com.", addrs)
//	if err != nil {
//	    return err
//	}
//
//	client, err := dnsupdate.NewClient(&dnsupdate.Config{
//	    Server: "ns1.example.com:53",
//	    Zone:   "example.com.",
//	}, dnsupdate.NewSig0Signer(id))
//	if err != nil {
//	    return err
//	}
//
//	session, err := client.Connect(ctx)
//	if err != nil {
//	    return err
//	}
//	defer session.Close()
//
//	result, err := session.Send(ctx, msg)
//
// # SIG(0) keys
//
// The signing key is an RSA private key in PEM form (PKCS#1 or PKCS#8). The
// server must know the matching public key as a KEY record owned by the zone
// name. Generate a key and print the record to publish with:
//
//	openssl genpkey -algorithm RSA -pkeyopt rsa_keygen_bits:2048 -out dns_update.key
//	whodis key pubkey --zone example.com. --key-file dns_update.key
package dnsupdate
