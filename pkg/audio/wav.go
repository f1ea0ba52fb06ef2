package audio

import "encoding/binary"

// WAVHeaderSize is the length of the canonical RIFF/WAVE header written by
// [EncodeWAV].
const WAVHeaderSize = 44

// EncodeWAV prefixes mono PCM16 with a canonical 44-byte RIFF/WAVE header so
// the payload can be handed to APIs that expect a self-contained audio file.
func EncodeWAV(pcm []byte, sampleRate int) []byte {
	out := make([]byte, WAVHeaderSize+len(pcm))
	le := binary.LittleEndian

	copy(out[0:4], "RIFF")
	le.PutUint32(out[4:8], uint32(36+len(pcm)))
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	le.PutUint32(out[16:20], 16) // fmt chunk size
	le.PutUint16(out[20:22], 1)  // PCM
	le.PutUint16(out[22:24], 1)  // mono
	le.PutUint32(out[24:28], uint32(sampleRate))
	le.PutUint32(out[28:32], uint32(sampleRate*BytesPerSample))
	le.PutUint16(out[32:34], BytesPerSample)
	le.PutUint16(out[34:36], 16)
	copy(out[36:40], "data")
	le.PutUint32(out[40:44], uint32(len(pcm)))
	copy(out[WAVHeaderSize:], pcm)
	return out
}
