// Package compression shrinks built images for storage and transfer.
//
// A fresh image is mostly free clusters full of zeros, so the image is run-length
// encoded first and the result is gzipped. The run-length encoding is RLE8, the
// scheme used by BMP files: a byte that occurs N >= 2 times in a row is written
// twice, followed by one unsigned byte holding N-2.
//
//	input:   W X X X X X X X X X X X X X X X Y Z Z
//	output:  W X X 13 Y Z Z 0
//
// One escape sequence covers at most 257 bytes; longer runs are split, so 300
// "X" become `X X 255 X X 41`. A byte that occurs exactly twice costs three
// bytes, since the doubled byte is its own escape.
package compression
