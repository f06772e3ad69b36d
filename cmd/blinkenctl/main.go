// blinkenctl runs the frame-production pipeline end to end: it loads the
// engine configuration and optional startup scene, wires the Time-Keeper,
// State Aggregator, GPU Pipeline, Frame Loop, Frame Resolver, and Device
// Registry together, and runs until interrupted.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"

	"github.com/Carmen-Shannon/blinkenctl/common"
	"github.com/Carmen-Shannon/blinkenctl/config"
	"github.com/Carmen-Shannon/blinkenctl/engine/aggregator"
	"github.com/Carmen-Shannon/blinkenctl/engine/animation"
	"github.com/Carmen-Shannon/blinkenctl/engine/auxiliary"
	"github.com/Carmen-Shannon/blinkenctl/engine/device"
	"github.com/Carmen-Shannon/blinkenctl/engine/frameloop"
	"github.com/Carmen-Shannon/blinkenctl/engine/gpu"
	"github.com/Carmen-Shannon/blinkenctl/engine/resolver"
	"github.com/Carmen-Shannon/blinkenctl/engine/timekeeper"
	"github.com/Carmen-Shannon/blinkenctl/engine/world"
)

func mainImpl() error {
	configPath := flag.String("config", "config.json", "path to the engine configuration file")
	scenePath := flag.String("scene", "", "path to an optional startup scene file")
	debug := flag.Bool("debug", false, "enable debug logging")
	forceFallbackAdapter := flag.Bool("force-fallback-adapter", false, "force a software wgpu adapter")
	flag.Parse()
	if flag.NArg() != 0 {
		return errors.New("unsupported arguments")
	}

	log := common.NewDefaultLogger("blinkenctl", *debug)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	shaders := config.DiscoverShaderManifests(cfg.Shaders.ShaderFolders, log)
	log.Infof("discovered %d shader(s)", len(shaders))

	worldCtx := world.New()
	animations := animation.New()
	auxManager := auxiliary.New(cfg.FrameInterval(), log)
	devices := device.New()

	backend, err := gpu.NewWGPUBackend(*forceFallbackAdapter)
	if err != nil {
		return fmt.Errorf("gpu backend: %w", err)
	}
	pipeline, err := gpu.New(backend, cfg.LedsPerComputeGroup, log)
	if err != nil {
		return fmt.Errorf("gpu pipeline: %w", err)
	}

	clock := timekeeper.New(cfg.FrameNumerator, cfg.FrameDenominator, cfg.FrameBufferSize, log)
	agg := aggregator.New(worldCtx, animations, auxManager, cfg.FrameInterval(), log)
	res := resolver.New(animations, worldCtx, log)

	if *scenePath != "" {
		if err := applyStartupScene(*scenePath, shaders, worldCtx, animations, auxManager, devices, res, log); err != nil {
			return fmt.Errorf("apply startup scene: %w", err)
		}
	}

	contextSink := agg.RegisterSubscriber(int(cfg.FrameBufferSize))
	frameSink := clock.RegisterCurrentFrameSink()
	computeOutput := make(chan gpu.ComputeOutput, 1)

	loop := frameloop.New(pipeline, contextSink, frameSink, computeOutput, log)

	deviceEvents := devices.Subscribe()
	deviceEventsQuit := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(6)
	go func() { defer wg.Done(); auxManager.Run() }()
	go func() { defer wg.Done(); agg.Run() }()
	go func() { defer wg.Done(); clock.Run() }()
	go func() { defer wg.Done(); loop.Run() }()
	go func() { defer wg.Done(); res.Run(computeOutput) }()
	go func() {
		defer wg.Done()
		handleDeviceEvents(deviceEvents, deviceEventsQuit, auxManager, res, log)
	}()

	log.Infof("blinkenctl running (frame interval %s)", cfg.FrameInterval())

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	<-c
	log.Infof("shutting down")

	// Reverse-order shutdown: devices are already passive (no worker
	// goroutines of their own to stop), so teardown starts at the resolver
	// and works back to the time-keeper; the device-event consumer only
	// reacts to registry state and can stop last.
	res.Stop()
	loop.Stop()
	agg.Stop()
	clock.Stop()
	auxManager.Stop()
	close(deviceEventsQuit)
	wg.Wait()

	return nil
}

// handleDeviceEvents drains device lifecycle events for as long as the
// engine runs, per spec.md's C9 contract that add/remove events are
// consumed by the Auxiliary Data Manager, Frame Loop, and Frame Resolver.
// On EventDeviceRemoved it releases the removed device's auxiliary channel
// (a no-op if the device fed no auxiliary) and tears down every fixture
// sink/routing entry that pointed at it.
func handleDeviceEvents(
	events <-chan device.Event,
	quit <-chan struct{},
	auxManager auxiliary.Manager,
	res resolver.Resolver,
	log common.Logger,
) {
	for {
		select {
		case <-quit:
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			if evt.Kind != device.EventDeviceRemoved {
				continue
			}

			auxManager.OnDeviceRemoved(common.AuxiliaryId(evt.Id))
			for _, fixture := range res.FixturesForDevice(evt.Id) {
				res.RemoveFixtureSink(fixture)
				res.UnrouteFixture(fixture)
			}
			log.Infof("device %s removed, torn down its fixture routing", evt.Id)
		}
	}
}

// applyStartupScene pre-creates every entity the scene file names and wires
// the fixture/auxiliary device routing maps, per §6.
func applyStartupScene(
	path string,
	shaders map[string]config.ShaderManifest,
	worldCtx world.WorldContext,
	animations animation.Registry,
	auxManager auxiliary.Manager,
	devices device.Registry,
	res resolver.Resolver,
	log common.Logger,
) error {
	scene, err := config.LoadStartupScene(path)
	if err != nil {
		return err
	}

	for _, f := range scene.Fixtures {
		if err := worldCtx.AddFixture(common.FixtureId(f.Id), f.ResolvedPositions()); err != nil {
			log.Errorf("startup scene: fixture %s: %v", f.Id, err)
		}
	}

	for _, a := range scene.Animations {
		shader, ok := shaders[a.ShaderId]
		if !ok {
			log.Errorf("startup scene: animation %s: unknown shader %s", a.Id, a.ShaderId)
			continue
		}
		manifest := animation.Manifest{Shader: shader.Source, Auxiliaries: shader.Auxiliaries}
		if err := animations.RegisterWithId(common.AnimationId(a.Id), manifest, a.Target.Target()); err != nil {
			log.Errorf("startup scene: animation %s: %v", a.Id, err)
		}
	}

	for id, auxIDs := range scene.AnimationAuxiliarySources {
		ids := make([]common.AuxiliaryId, len(auxIDs))
		for i, a := range auxIDs {
			ids[i] = common.AuxiliaryId(a)
		}
		auxManager.SetAnimationSources(common.AnimationId(id), ids)
	}

	for _, a := range scene.Auxiliaries {
		var rng *auxiliary.ScalarRange
		if a.Range != nil {
			rng = a.Range
		}
		if err := auxManager.AddAuxiliary(common.AuxiliaryId(a.Id), a.Consumer, rng, a.Dims...); err != nil {
			log.Errorf("startup scene: auxiliary %s: %v", a.Id, err)
		}
	}

	fixtureToDevice := make(map[common.FixtureId]common.DeviceId, len(scene.FixturesToDevice))
	for fixture, dev := range scene.FixturesToDevice {
		fixtureToDevice[common.FixtureId(fixture)] = common.DeviceId(dev)
	}

	for _, d := range scene.Devices {
		handle := d.Config.Handle()
		devID := common.DeviceId(d.Id)

		switch handle.Kind {
		case device.KindAuxiliaryData:
			// The device id doubles as the AuxiliaryId it feeds.
			ch, err := auxManager.OnDeviceAdded(common.AuxiliaryId(devID))
			if err != nil {
				log.Errorf("startup scene: device %s: %v", d.Id, err)
				continue
			}
			handle.Output = ch
		case device.KindLEDDataOutput:
			for fixture, owner := range fixtureToDevice {
				if owner != devID {
					continue
				}
				handle.Input = res.RegisterFixtureSink(fixture)
				res.RouteFixtureToDevice(fixture, devID)
				break
			}
		}

		if err := devices.AddDevice(devID, handle); err != nil {
			log.Errorf("startup scene: device %s: %v", d.Id, err)
		}
	}

	return nil
}
