package frame

import (
	"bufio"
	"bytes"
	"io"
	"testing"
)

// recorder collects published frames.
type recorder struct {
	frames []Frame
}

func (r *recorder) Publish(f Frame) {
	r.frames = append(r.frames, f)
}

func jpeg(body ...byte) []byte {
	return append([]byte{0xFF, 0xD8}, body...)
}

func TestAssembler_Feed(t *testing.T) {
	tests := []struct {
		name   string
		chunks [][]byte
		want   [][]byte
	}{
		{
			name:   "first marker publishes nothing",
			chunks: [][]byte{jpeg(1, 2, 3)},
			want:   nil,
		},
		{
			name:   "second marker publishes the first frame",
			chunks: [][]byte{jpeg(1, 2), jpeg(3, 4)},
			want:   [][]byte{jpeg(1, 2)},
		},
		{
			name:   "continuation chunks are appended",
			chunks: [][]byte{jpeg(1), {2, 3}, {4}, jpeg(5), {6}, jpeg(7)},
			want:   [][]byte{jpeg(1, 2, 3, 4), jpeg(5, 6)},
		},
		{
			name:   "bytes before the first marker are dropped",
			chunks: [][]byte{{9, 9, 9}, jpeg(1), jpeg(2)},
			want:   [][]byte{jpeg(1)},
		},
		{
			name:   "marker not at chunk start does not split",
			chunks: [][]byte{jpeg(1), {0x00, 0xFF, 0xD8, 0x01}, jpeg(2)},
			want:   [][]byte{append(jpeg(1), 0x00, 0xFF, 0xD8, 0x01)},
		},
		{
			name:   "malformed frames pass through",
			chunks: [][]byte{jpeg(), jpeg(0xFF, 0xD9, 0xFF)},
			want:   [][]byte{jpeg()},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			a := NewAssembler(rec)

			for _, c := range tt.chunks {
				a.Feed(c)
			}

			if len(rec.frames) != len(tt.want) {
				t.Fatalf("published %d frames, want %d", len(rec.frames), len(tt.want))
			}
			for i := range tt.want {
				if !bytes.Equal(rec.frames[i], tt.want[i]) {
					t.Errorf("frame %d = % x, want % x", i, rec.frames[i], tt.want[i])
				}
			}
			if got := a.Frames(); got != uint64(len(tt.want)) {
				t.Errorf("Frames() = %d, want %d", got, len(tt.want))
			}
		})
	}
}

func TestAssembler_DiscardsBytesBeforeFirstMarker(t *testing.T) {
	rec := &recorder{}
	a := NewAssembler(rec)

	noise := bytes.Repeat([]byte{0x42}, 1<<16)
	for i := 0; i < 64; i++ {
		a.Feed(noise)
	}

	if n := a.acc.Len(); n != 0 {
		t.Errorf("accumulator holds %d bytes before any marker, want 0", n)
	}
	if len(rec.frames) != 0 {
		t.Errorf("published %d frames, want 0", len(rec.frames))
	}

	a.Feed(jpeg(1))
	a.Feed(jpeg(2))
	if len(rec.frames) != 1 || !bytes.Equal(rec.frames[0], jpeg(1)) {
		t.Errorf("frames = % x, want [% x]", rec.frames, jpeg(1))
	}
}

func TestAssembler_FramesDoNotAliasInput(t *testing.T) {
	rec := &recorder{}
	a := NewAssembler(rec)

	chunk := jpeg(1, 2, 3)
	a.Feed(chunk)
	a.Feed(jpeg(4))

	// Mutating the caller's chunk and feeding more must not change the published frame.
	chunk[2] = 0xAA
	a.Feed(jpeg(5, 6, 7, 8, 9))

	if !bytes.Equal(rec.frames[0], jpeg(1, 2, 3)) {
		t.Errorf("first frame changed to % x", rec.frames[0])
	}
}

func TestAssembler_Reset(t *testing.T) {
	rec := &recorder{}
	a := NewAssembler(rec)

	a.Feed(jpeg(1))
	a.Feed([]byte{2})
	a.Reset()

	a.Feed(jpeg(3))
	if len(rec.frames) != 0 {
		t.Fatalf("marker after Reset published %d frames, want 0", len(rec.frames))
	}

	a.Feed(jpeg(4))
	if len(rec.frames) != 1 || !bytes.Equal(rec.frames[0], jpeg(3)) {
		t.Errorf("frames = % x, want [% x]", rec.frames, jpeg(3))
	}
}

func TestAssembler_PublishesIntoBuffer(t *testing.T) {
	b := NewBuffer()
	a := NewAssembler(b)

	if _, err := io.Copy(a, bytes.NewReader(jpeg(1, 2))); err != nil {
		t.Fatalf("io.Copy() error = %v", err)
	}
	a.Feed(jpeg(3))

	f, gen, ok := b.Latest()
	if !ok || gen != 1 {
		t.Fatalf("Latest() = %v, %d, %v; want one frame", f, gen, ok)
	}
	if !bytes.Equal(f, jpeg(1, 2)) {
		t.Errorf("Latest() frame = % x, want % x", f, jpeg(1, 2))
	}
}

func TestSplitJPEG(t *testing.T) {
	img1 := []byte{0xFF, 0xD8, 1, 2, 0xFF, 0xD9}
	img2 := []byte{0xFF, 0xD8, 3, 0xFF, 0xD9}
	truncated := []byte{0xFF, 0xD8, 4, 5}

	tests := []struct {
		name  string
		input []byte
		want  [][]byte
	}{
		{
			name:  "two images",
			input: concat(img1, img2),
			want:  [][]byte{img1, img2},
		},
		{
			name:  "leading garbage",
			input: concat([]byte{0, 1, 2}, img1),
			want:  [][]byte{img1},
		},
		{
			name:  "garbage between images",
			input: concat(img1, []byte{7, 7}, img2),
			want:  [][]byte{img1, img2},
		},
		{
			name:  "truncated tail",
			input: concat(img1, truncated),
			want:  [][]byte{img1, truncated},
		},
		{
			name:  "empty",
			input: nil,
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// A one-byte reader forces markers to straddle reads.
			sc := bufio.NewScanner(&oneByteReader{data: tt.input})
			sc.Split(SplitJPEG)

			var got [][]byte
			for sc.Scan() {
				got = append(got, bytes.Clone(sc.Bytes()))
			}
			if err := sc.Err(); err != nil {
				t.Fatalf("scan error = %v", err)
			}

			if len(got) != len(tt.want) {
				t.Fatalf("got %d tokens, want %d", len(got), len(tt.want))
			}
			for i := range tt.want {
				if !bytes.Equal(got[i], tt.want[i]) {
					t.Errorf("token %d = % x, want % x", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

type oneByteReader struct {
	data []byte
}

func (r *oneByteReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}
	p[0] = r.data[0]
	r.data = r.data[1:]
	return 1, nil
}
