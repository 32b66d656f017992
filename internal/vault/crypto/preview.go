/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package crypto

// Preview derives a non-reversible display string from a plaintext's bytes
// (code units): if the length is 8 or fewer, the preview is entirely mask
// characters of the same length; otherwise it is the first 4 bytes, a run
// of '*' covering the middle, and the last 4 bytes. This never exposes more
// than 4 leading and 4 trailing bytes of the plaintext.
func Preview(plaintext string) string {
	b := []byte(plaintext)
	n := len(b)

	if n <= 8 {
		return mask(n)
	}

	out := make([]byte, 0, n)
	out = append(out, b[:4]...)
	for range n - 8 {
		out = append(out, '*')
	}
	out = append(out, b[n-4:]...)
	return string(out)
}

func mask(n int) string {
	out := make([]byte, n)
	for i := range out {
		out[i] = '*'
	}
	return string(out)
}
