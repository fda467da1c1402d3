// Package audio decodes the Opus frames delivered by av.AudioReceiver.
//
// The console sends 48kHz Opus. OpusSink plugs into the receiver's frame
// callback, decodes every frame with pion/opus and hands the PCM samples to
// a PCMFunc:
//
//	sink := audio.NewOpusSink(func(pcm []int16, sampleRate uint32, stereo bool) {
//	    player.Write(pcm)
//	}, logger)
//	receiver := av.NewAudioReceiver(av.AudioReceiverConfig{Frame: sink.Frame})
//
// Decoding errors are logged and counted; a bad frame never stops the
// stream.
package audio
