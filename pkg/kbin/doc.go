// Package kbin converts KBin node trees between their XML text form and
// their compact binary form.
//
// # Overview
//
// A KBin document is a single tree of named nodes. Every node has a type
// (void, signed and unsigned integers, float, double, bool, ip4, time, str,
// bin), an optional value, string attributes and children. Fixed-size
// types may be stored as arrays.
//
// # Text Form
//
// The text form is plain XML where reserved attributes describe the value:
//
//	<?xml version="1.0" encoding="SHIFT_JIS"?>
//	<root>
//	  <id __type="u32">7</id>
//	  <scores __type="s16" __count="3">1 -2 3</scores>
//	  <blob __type="bin" __size="2">beef</blob>
//	  <name>text nodes need no __type</name>
//	</root>
//
// The encoding named in the declaration is the encoding the document uses
// once written in binary form. Documents without a declaration report
// format.EncodingNone.
//
// # Binary Form
//
// The binary form starts with a four byte header (signature, compression
// marker, encoding tag and its complement), followed by a node buffer and a
// data buffer. With format.Compressed, node names are packed six bits per
// character; otherwise they are stored in the document encoding.
//
// # Usage
//
//	tree, enc, err := kbin.FromTextXML(xmlBytes)
//	if err != nil {
//	    return err
//	}
//	bin, err := kbin.ToBinary(kbin.WithEncoding(enc), tree)
//
// A Codec created with NewCodec accepts a custom *slog.Logger. The package
// level functions share a lazily created default Codec.
package kbin
