package main

import (
	"encoding/binary"
	"encoding/json"
	"flag"
	"io"
	"log"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

// WAV header is 44 bytes for standard PCM files
const wavHeaderSize = 44

// Stream audio in chunks to simulate real-time capture.
// At 16kHz 16-bit mono = 32000 bytes/second, 100ms chunks = 3200 bytes.
const chunkSize = 3200
const chunkInterval = 100 * time.Millisecond

type result struct {
	Success    bool    `json:"success"`
	Transcript string  `json:"transcript"`
	IsFinal    bool    `json:"is_final"`
	Confidence float64 `json:"confidence"`
	Error      string  `json:"error"`
}

func main() {
	audioFile := flag.String("audio", "testdata/sample-16khz.wav", "Path to WAV file (16kHz 16-bit mono PCM)")
	serverURL := flag.String("server", "ws://localhost:8080/v1/speech/transcribe", "Relay websocket URL")
	flag.Parse()

	f, err := os.Open(*audioFile)
	if err != nil {
		log.Fatalf("Failed to open audio file: %v", err)
	}
	defer f.Close()

	header := make([]byte, wavHeaderSize)
	if _, err := io.ReadFull(f, header); err != nil {
		log.Fatalf("Failed to read WAV header: %v", err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		log.Fatal("Not a valid WAV file")
	}

	audioFormat := binary.LittleEndian.Uint16(header[20:22])
	numChannels := binary.LittleEndian.Uint16(header[22:24])
	sampleRate := binary.LittleEndian.Uint32(header[24:28])
	bitsPerSample := binary.LittleEndian.Uint16(header[34:36])

	log.Printf("WAV file: format=%d channels=%d sampleRate=%d bitsPerSample=%d",
		audioFormat, numChannels, sampleRate, bitsPerSample)
	if audioFormat != 1 { // PCM
		log.Fatal("Only PCM format supported")
	}

	conn, _, err := websocket.DefaultDialer.Dial(*serverURL, nil)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()
	log.Printf("Connected to %s", *serverURL)

	// Print results as they arrive.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var res result
			if err := json.Unmarshal(msg, &res); err != nil {
				log.Printf("Unparseable result: %s", msg)
				continue
			}
			if !res.Success {
				log.Printf("ERROR: %s", res.Error)
				return
			}
			marker := "partial"
			if res.IsFinal {
				marker = "final"
			}
			log.Printf("[%s] %q (confidence=%.2f)", marker, res.Transcript, res.Confidence)
		}
	}()

	buf := make([]byte, chunkSize)
	chunks := 0
	for {
		n, err := f.Read(buf)
		if n > 0 {
			if err := conn.WriteMessage(websocket.BinaryMessage, buf[:n]); err != nil {
				log.Fatalf("Failed to send audio: %v", err)
			}
			chunks++
			time.Sleep(chunkInterval)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Fatalf("Failed to read audio: %v", err)
		}
	}

	log.Printf("Sent %d chunks, sending end marker", chunks)
	if err := conn.WriteMessage(websocket.TextMessage, []byte("end")); err != nil {
		log.Fatalf("Failed to send end marker: %v", err)
	}

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		log.Println("Timed out waiting for results")
	}
}
