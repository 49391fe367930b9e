// Package xar reads and writes xar archives.
//
// An archive is a single seekable stream:
//
//	[ binary header ][ zlib-compressed XML table of contents ][ heap ]
//
// The table of contents (TOC) describes every entry as a tree of
// properties with attributes. File payloads live in the heap and are
// referenced from the TOC by offset and length. Each payload is compressed
// independently and carries checksums over both its archived and its
// extracted bytes. The TOC itself is covered by a checksum stored at the
// start of the heap, and detached signatures over that checksum may follow
// it.
//
// # Writing
//
//	a, err := xar.CreateFile("out.xar", xar.WithSetting(xar.OptCompression, "zstd"))
//	if err != nil {
//	    return err
//	}
//	if _, err := a.AddFromBytes(nil, "a.txt", []byte("hello")); err != nil {
//	    return err
//	}
//	return a.Close()
//
// # Reading
//
//	a, err := xar.OpenFile("out.xar")
//	if err != nil {
//	    return err
//	}
//	defer a.Close()
//	e, _ := a.Lookup("a.txt")
//	data, err := a.ExtractToBuffer(e)
//
// # Streaming
//
// [Stream] decodes one entry in caller-sized steps, so memory use is bounded
// by the output buffer rather than the entry size.
//
// # Errors
//
// Errors fall into five categories, matched with errors.Is: [ErrFormat],
// [ErrIntegrity], [ErrCodec], [ErrResource] and [ErrUsage]. Every reportable
// condition also passes through the archive's [ErrorHandler] and is logged
// through its slog.Logger.
//
// An Archive is not safe for concurrent use. Distinct archives are
// independent.
package xar
