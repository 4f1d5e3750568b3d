// Package signproxy is a caching front for an external code signer.
//
// Every file is stored once under the MD5 of its bytes. A lineage graph
// remembers which stored file is the signed output of which input, per
// digest method, so a pipeline that asks for the same signature twice gets
// the earlier result back without running the signer again.
//
// Basic usage:
//
//	svc, _ := signproxy.Open(dir, signproxy.WithSigner(tool))
//	defer svc.Close()
//
//	// First request uploads the bytes and runs the signer.
//	res, _ := svc.Sign(ctx, signproxy.SignRequest{
//	    Input:  signproxy.ByContent("setup.exe", data),
//	    Method: signproxy.SHA1,
//	})
//
//	// Later requests can refer to the upload by hash and hit the cache.
//	res, _ = svc.Sign(ctx, signproxy.SignRequest{
//	    Input:  signproxy.ByReference(res.Input),
//	    Method: signproxy.SHA1,
//	})
//
//	// Dual signing appends a sha256 signature to the sha1 result.
//	res, _ = svc.Sign(ctx, signproxy.SignRequest{
//	    Input:  signproxy.ByReference(res.Output),
//	    Method: signproxy.SHA256,
//	    Nested: true,
//	})
//
//	rc, size, _ := svc.Open(res.Output)
//
// Maintenance:
//
//	svc.Clear(ctx)        // drop signed output and nested uploads
//	svc.Push(ctx, remote) // publish the cache to an OCI registry
//	svc.Pull(ctx, remote) // fetch another proxy's cache
package signproxy
