package varjofuse

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	"github.com/function61/gokit/httputils"
	"github.com/function61/gokit/logex"
	"github.com/function61/gokit/retry"
	"github.com/function61/gokit/taskrunner"
	"github.com/function61/varjo/pkg/logtee"
	"github.com/function61/varjo/pkg/varjoblock"
	"github.com/function61/varjo/pkg/varjoutils"
)

func serve(ctx context.Context, conf *Config, unmountFirst bool, logger *log.Logger, logTail *logtee.StringTail) error {
	logl := logex.Levels(logex.Prefix("main", logger))

	var store *varjoblock.Store
	if conf.BlockDb != "" {
		var err error
		store, err = varjoblock.OpenStore(conf.BlockDb)
		if err != nil {
			return fmt.Errorf("block_db: %w", err)
		}
		defer store.Close()
	}

	blocks, err := varjoblock.New(store, logex.Levels(logex.Prefix("blocks", logger)))
	if err != nil {
		return err
	}

	reapSchedule, err := conf.reapSchedule()
	if err != nil {
		return err
	}

	metrics := newMetricsController()

	fsys, err := newShadowFS(conf, blocks, metrics, logex.Levels(logex.Prefix("fs", logger)))
	if err != nil {
		return err
	}

	listener, err := varjoutils.CreateTCPOrDomainSocketListener(conf.ControlAddr, logl)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler: newControlAPI(fsys, logTail),
	}

	tasks := taskrunner.New(ctx, logger)

	tasks.Start("listener "+listener.Addr().String(), func(ctx context.Context) error {
		return httputils.RemoveGracefulServerClosedError(srv.Serve(listener))
	})

	tasks.Start("listenershutdowner", httputils.ServerShutdownTask(srv))

	tasks.Start("metrics", metrics.Task(fsys))

	tasks.Start("reaper", fsys.reaperTask(reapSchedule))

	tasks.Start("fusesrv", func(ctx context.Context) error {
		return fuseServe(ctx, fsys, conf, unmountFirst, logl)
	})

	return tasks.Wait()
}

func fuseServe(ctx context.Context, fsys *shadowFS, conf *Config, unmountFirst bool, logl *logex.Leveled) error {
	// we can't do this without the branch because if path is not mounted, it yields an error
	if unmountFirst {
		// if previous process dies before successful unmount, this will unmount it without root privileges
		if err := fuse.Unmount(conf.MountPath); err != nil {
			return err
		}
	}

	mountOptions := []fuse.MountOption{
		fuse.FSName("varjo"),
		fuse.Subtype("varjofs"),
		fuse.ReadOnly(),
	}

	if conf.AllowOther {
		mountOptions = append(mountOptions, fuse.AllowOther())
	}

	fuseConn, err := fuse.Mount(conf.MountPath, mountOptions...)
	if err != nil {
		return err
	}
	defer fuseConn.Close()

	unmounted := make(chan struct{})
	defer close(unmounted)

	go func() {
		select {
		case <-unmounted: // unmounted from outside
			return
		case <-ctx.Done():
		}

		tryUnmount := func(ctx context.Context) error {
			// "Instead of sending a SIGINT to the process, you should unmount the filesystem
			// That will cause the serve loop to exit, and your process can exit that way."
			// https://github.com/bazil/fuse/issues/6
			return fuse.Unmount(conf.MountPath)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
		defer cancel()

		// retrying because unmount will fail if any process is accessing the mount
		if err := retry.Retry(ctx, tryUnmount, retry.DefaultBackoff(), func(err error) {
			logl.Error.Printf("tryUnmount: %v", err)
		}); err != nil {
			logl.Error.Printf("giving up unmounting: %v", err)
		}
	}()

	logl.Info.Printf("mirroring %s at %s", conf.LowerDir, conf.MountPath)

	if err := fs.Serve(fuseConn, fsys); err != nil {
		return err
	}

	// check if the mount process has an error to report
	<-fuseConn.Ready
	if err := fuseConn.MountError; err != nil {
		return err
	}

	// kernel has let go of everything, so leftovers in the alias table are our bugs
	return fsys.close()
}
