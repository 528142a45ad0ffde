package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	pollytypes "github.com/aws/aws-sdk-go-v2/service/polly/types"
	"github.com/aws/smithy-go"

	"github.com/hubenschmidt/voice-session-gateway/internal/audio"
	"github.com/hubenschmidt/voice-session-gateway/internal/resilience"
)

// Polly only emits PCM at 8 kHz or 16 kHz; other session rates are resampled.
const pollyPCMRate = 16000

type synthClient interface {
	SynthesizeSpeech(ctx context.Context, params *polly.SynthesizeSpeechInput, optFns ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error)
}

type PollyConfig struct {
	Region  string
	VoiceID string
	Engine  string
}

// PollySynthesizer streams AWS Polly PCM output.
type PollySynthesizer struct {
	mu     sync.Mutex
	client synthClient
	cfg    PollyConfig
}

func NewPollySynthesizer(cfg PollyConfig) *PollySynthesizer {
	return newPollySynthesizer(cfg, nil)
}

func newPollySynthesizer(cfg PollyConfig, client synthClient) *PollySynthesizer {
	if strings.TrimSpace(cfg.Region) == "" {
		cfg.Region = "us-east-1"
	}
	if strings.TrimSpace(cfg.VoiceID) == "" {
		cfg.VoiceID = "Joanna"
	}
	if strings.TrimSpace(cfg.Engine) == "" {
		cfg.Engine = "neural"
	}
	return &PollySynthesizer{client: client, cfg: cfg}
}

func (p *PollySynthesizer) Synthesize(ctx context.Context, req SynthesisRequest) (<-chan []byte, <-chan error) {
	return streamChunks(ctx, func(emit func([]byte) error) error {
		client, err := p.resolveClient(ctx)
		if err != nil {
			return err
		}
		engine := pollytypes.EngineStandard
		if strings.EqualFold(p.cfg.Engine, "neural") {
			engine = pollytypes.EngineNeural
		}

		rate := pollyPCMRate
		if req.SampleRate == 8000 {
			rate = 8000
		}
		size := samplesPerChunk(req)

		for _, sentence := range splitSentences(req.Text) {
			output, err := client.SynthesizeSpeech(ctx, &polly.SynthesizeSpeechInput{
				Engine:       engine,
				OutputFormat: pollytypes.OutputFormatPcm,
				SampleRate:   aws.String(strconv.Itoa(rate)),
				Text:         aws.String(sentence),
				TextType:     pollytypes.TextTypeText,
				VoiceId:      pollytypes.VoiceId(p.cfg.VoiceID),
			})
			if err != nil {
				return normalizePollyError(err)
			}
			if output == nil || output.AudioStream == nil {
				return errors.New("polly returned no audio")
			}
			err = streamPollyAudio(output.AudioStream, rate, req.SampleRate, size, emit)
			output.AudioStream.Close()
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// streamPollyAudio forwards the PCM stream chunk by chunk when no resampling
// is needed, otherwise it reads the sentence fully and resamples it.
func streamPollyAudio(r io.Reader, srcRate, dstRate, size int, emit func([]byte) error) error {
	if srcRate != dstRate {
		raw, err := io.ReadAll(r)
		if err != nil {
			return fmt.Errorf("read polly audio: %w", err)
		}
		samples, err := audio.DecodePCM16(raw[:len(raw)&^1])
		if err != nil {
			return fmt.Errorf("decode polly audio: %w", err)
		}
		return emitSamples(audio.Resample(samples, srcRate, dstRate), size, emit)
	}

	buf := make([]byte, size*2)
	for {
		n, err := io.ReadFull(r, buf)
		if n >= 2 {
			chunk := make([]byte, n&^1)
			copy(chunk, buf)
			if emitErr := emit(chunk); emitErr != nil {
				return emitErr
			}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read polly audio: %w", err)
		}
	}
}

// normalizePollyError marks request errors that no retry can fix as permanent.
func normalizePollyError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "InvalidSsmlException", "TextLengthExceededException", "LexiconNotFoundException",
			"InvalidSampleRateException", "ValidationException":
			return resilience.Permanent(fmt.Errorf("polly rejected request: %w", err))
		}
	}
	return fmt.Errorf("polly synthesize: %w", err)
}

func (p *PollySynthesizer) resolveClient(ctx context.Context) (synthClient, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		return p.client, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(p.cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	p.client = polly.NewFromConfig(awsCfg)
	return p.client, nil
}
