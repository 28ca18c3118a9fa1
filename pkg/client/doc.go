// Package client is the ECHO Go SDK.
//
// It wraps the echod HTTP API: wallet sign-in, uploading a recording with its
// proof, loading shared recordings and server-side verification.
//
// # Signing in
//
// Owner routes need a session token. SignIn requests a nonce challenge,
// signs it with the wallet and keeps the returned token:
//
//	c, err := client.New("https://api.echo.example")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	_, err = c.SignIn(ctx, address, func(ctx context.Context, msg string) (string, error) {
//	    sig, err := wallet.Sign(ctx, msg)
//	    return sig.Signature, err
//	})
//
// # Uploading
//
//	res, err := c.Upload(ctx, client.UploadRequest{
//	    Audio:      audio,
//	    Aqua:       proofJSON,
//	    EVMAddress: address,
//	})
//	fmt.Println(res.ShareURL)
//
// # Loading a share
//
// Content on IPFS can take a moment to propagate. Share returns an
// *UnavailableError, matching ErrNotYetAvailable, until it has:
//
//	share, err := c.Share(ctx, shareID)
//	if errors.Is(err, client.ErrNotYetAvailable) {
//	    // retry later
//	}
package client
