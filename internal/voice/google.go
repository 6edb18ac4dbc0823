package voice

import (
	"context"
	"fmt"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"
)

const defaultLanguage = "en-US"

// GoogleRecognizer uses synchronous Speech-to-Text recognition.
type GoogleRecognizer struct {
	client   *speech.Client
	language string
}

func NewGoogleRecognizer(ctx context.Context, language, credentialsFile string) (*GoogleRecognizer, error) {
	if language == "" {
		language = defaultLanguage
	}
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating Google speech client: %w", err)
	}
	return &GoogleRecognizer{client: client, language: language}, nil
}

// Transcribe sends the clip as-is; WAV and FLAC headers carry the encoding.
func (g *GoogleRecognizer) Transcribe(ctx context.Context, audio []byte) ([]string, error) {
	resp, err := g.client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			LanguageCode:    g.language,
			MaxAlternatives: 1,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audio},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("recognize: %w", err)
	}
	var transcripts []string
	for _, result := range resp.GetResults() {
		if alts := result.GetAlternatives(); len(alts) > 0 {
			transcripts = append(transcripts, alts[0].GetTranscript())
		}
	}
	return transcripts, nil
}

func (g *GoogleRecognizer) Close() error {
	return g.client.Close()
}
